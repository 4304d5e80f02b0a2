package customer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/user"
)

var (
	// errors
	ErrNotFound             = errors.New("customer not found")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionExists     = errors.New("this customer is already connected or has a pending request")
	ErrConnectionNotPending = errors.New("this connection request is not pending")
	ErrSearchRequired       = errors.New("a search query is required")
	ErrNotAllowed           = core.NewPermissionError("not allowed to manage this customer")
	ErrConnectionForbidden  = core.NewPermissionError("not allowed to manage this connection")
)

type (
	Repository interface {
		CreateCustomer(ctx context.Context, c Customer, exec ...core.DBExecutor) (Customer, error)
		// QueryCustomers applies AND operation on the QueryFilter storage fields.
		// QueryFilter.Search matches name, full name or business number (with or without hyphens).
		QueryCustomers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Customer, error)
		CountCustomers(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) (int, error)
		GetCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (Customer, error)
		UpdateCustomer(ctx context.Context, c Customer, exec ...core.DBExecutor) (Customer, error)
		DeleteCustomer(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)

		CreateConnection(ctx context.Context, conn Connection, exec ...core.DBExecutor) (Connection, error)
		QueryConnections(ctx context.Context, filter ConnectionFilter, exec ...core.DBExecutor) ([]Connection, error)
		GetConnection(ctx context.Context, id string, exec ...core.DBExecutor) (Connection, error)
		UpdateConnection(ctx context.Context, conn Connection, exec ...core.DBExecutor) (Connection, error)
	}

	Service interface {
		Create(ctx context.Context, actor core.Actor, nc NewCustomer) (Customer, error)
		// BulkCreate creates the internal customers listed in csvText, skipping known codes & names.
		BulkCreate(ctx context.Context, actor core.Actor, csvText string) (core.BulkResult, error)
		Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Customer, error)
		Count(ctx context.Context, filter *QueryFilter) (int, error)
		// GetByID returns the Customer without any permission check.
		GetByID(ctx context.Context, id string) (Customer, error)
		Get(ctx context.Context, actor core.Actor, id string) (Customer, error)
		Update(ctx context.Context, actor core.Actor, c Customer, uc UpdateCustomer) (Customer, error)
		Delete(ctx context.Context, actor core.Actor, id string) error

		// AccessibleIDs returns the ids of the customers actor may work on; all is true for SUPER_ADMIN.
		AccessibleIDs(ctx context.Context, actor core.Actor) (ids []string, all bool, err error)
		// CanAccess returns ErrNotFound when actor may not work on the customer.
		CanAccess(ctx context.Context, actor core.Actor, customerID string) error

		QueryConnections(ctx context.Context, actor core.Actor, filter ConnectionFilter) ([]Connection, error)
		RequestConnection(ctx context.Context, actor core.Actor, customerID string, req ConnectionRequest) (Connection, error)
		ApproveConnection(ctx context.Context, actor core.Actor, connID string) (Connection, error)
		RejectConnection(ctx context.Context, actor core.Actor, connID string) (Connection, error)
		Disconnect(ctx context.Context, actor core.Actor, connID string) (Connection, error)
		SetCustomCode(ctx context.Context, actor core.Actor, connID, code string) (Connection, error)
	}

	service struct {
		repo     Repository
		db       core.DB
		usrSvc   user.Service
		notifSvc notification.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, db core.DB, usrSvc user.Service, notifSvc notification.Service) Service {
	return &service{
		repo:     repo,
		db:       db,
		usrSvc:   usrSvc,
		notifSvc: notifSvc,
	}
}

func newCustomer(nc NewCustomer, now time.Time) Customer {
	return Customer{
		Name:           nc.Name,
		Code:           nc.Code,
		BusinessNumber: nc.BusinessNumber,
		FullName:       nc.FullName,
		Address:        nc.Address,
		Industry:       nc.Industry,
		SiteCategory:   nc.SiteCategory,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Create registers a public customer when actor is SUPER_ADMIN.
// Organization users get a customer of their own, approved-connected to their organization.
func (svc *service) Create(ctx context.Context, actor core.Actor, nc NewCustomer) (Customer, error) {
	if !(actor.IsSuperAdmin() || actor.IsOrgUser()) {
		return Customer{}, ErrNotAllowed
	}

	now := time.Now().UTC()
	c := newCustomer(nc, now)
	if actor.IsSuperAdmin() {
		c.IsPublic = true
	} else {
		c.CreatedBy = actor.OrganizationID
	}

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if c, err = svc.repo.CreateCustomer(ctx, c, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "creating customer")
		}
		if c.CreatedBy == "" {
			return nil
		}
		conn, err := svc.repo.CreateConnection(ctx, Connection{
			CustomerID:     c.ID,
			OrganizationID: c.CreatedBy,
			Status:         ConnApproved,
			RequestedBy:    RequestedByOrganization,
			CustomCode:     nc.CustomCode,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, core.Executors(exec)...)
		if err != nil {
			return errors.Wrap(err, "creating connection")
		}
		c.Connection = &conn
		return nil
	})
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}

func (svc *service) Query(ctx context.Context, actor core.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Customer, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	ordering = core.FilterOrderings(ordering, "name", "code", "created_at")
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	switch {
	case actor.IsSuperAdmin():
		if filter.OrganizationID != "" {
			conns, err := svc.repo.QueryConnections(ctx, ConnectionFilter{
				OrganizationID: filter.OrganizationID,
				Statuses:       []string{ConnApproved},
			})
			if err != nil {
				return nil, errors.Wrap(err, "querying connections")
			}
			if filter.IDs = connCustomerIDs(conns); len(filter.IDs) == 0 {
				return []Customer{}, nil
			}
		}
		return svc.repo.QueryCustomers(ctx, filter, ordering)
	case actor.IsOrgUser():
		return svc.queryForOrganization(ctx, actor.OrganizationID, filter, ordering)
	case actor.IsCustomerUser():
		filter.IDs = []string{actor.CustomerID}
		return svc.repo.QueryCustomers(ctx, filter, ordering)
	}
	return []Customer{}, nil
}

// orgView holds what an organization sees of the customers: the ones it created & its connections.
type orgView struct {
	created []string
	conns   map[string]Connection // by customer id
}

func (v orgView) approved() []string {
	ids := make([]string, 0, len(v.conns))
	for id, conn := range v.conns {
		if conn.Status == ConnApproved {
			ids = append(ids, id)
		}
	}
	return ids
}

func (v orgView) linked() []string {
	ids := make([]string, 0, len(v.conns))
	for id, conn := range v.conns {
		if conn.IsLinked() {
			ids = append(ids, id)
		}
	}
	return ids
}

// internal lists the created customers without any live connection.
func (v orgView) internal() []string {
	ids := make([]string, 0, len(v.created))
	for _, id := range v.created {
		if conn, ok := v.conns[id]; !ok || !conn.IsLinked() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (svc *service) organizationView(ctx context.Context, orgID string) (orgView, error) {
	conns, err := svc.repo.QueryConnections(ctx, ConnectionFilter{OrganizationID: orgID})
	if err != nil {
		return orgView{}, errors.Wrap(err, "querying connections")
	}
	created, err := svc.repo.QueryCustomers(ctx, &QueryFilter{CreatedBy: orgID}, nil)
	if err != nil {
		return orgView{}, errors.Wrap(err, "querying created customers")
	}

	view := orgView{
		created: make([]string, 0, len(created)),
		conns:   make(map[string]Connection, len(conns)),
	}
	for _, c := range created {
		view.created = append(view.created, c.ID)
	}
	for _, conn := range conns {
		view.conns[conn.CustomerID] = conn
	}
	return view, nil
}

func (svc *service) queryForOrganization(ctx context.Context, orgID string, filter *QueryFilter, ordering []core.DBOrdering) ([]Customer, error) {
	view, err := svc.organizationView(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var customers []Customer
	switch filter.Tab {
	case TabInternal:
		customers, err = svc.queryIDs(ctx, filter, view.internal(), ordering)
	case TabConnected:
		customers, err = svc.queryIDs(ctx, filter, view.linked(), ordering)
	case TabSearch:
		if filter.Search == "" {
			return nil, core.NewValidationError(ErrSearchRequired, core.FieldError{Field: "q", Error: ErrSearchRequired.Error()})
		}
		public := true
		pubFilter := *filter
		pubFilter.IsPublic = &public
		if customers, err = svc.repo.QueryCustomers(ctx, &pubFilter, ordering); err != nil {
			return nil, err
		}
		var internal []Customer
		if internal, err = svc.queryIDs(ctx, filter, view.internal(), ordering); err != nil {
			return nil, err
		}
		customers = mergeCustomers(customers, internal)
	default:
		customers, err = svc.queryIDs(ctx, filter, core.UniqueStrings(append(view.created, view.approved()...)), ordering)
	}
	if err != nil {
		return nil, err
	}

	for i := range customers {
		if conn, ok := view.conns[customers[i].ID]; ok {
			conn := conn
			customers[i].Connection = &conn
		}
	}
	return customers, nil
}

func (svc *service) queryIDs(ctx context.Context, filter *QueryFilter, ids []string, ordering []core.DBOrdering) ([]Customer, error) {
	if len(ids) == 0 {
		return []Customer{}, nil
	}
	f := *filter
	f.IDs = ids
	return svc.repo.QueryCustomers(ctx, &f, ordering)
}

func mergeCustomers(lists ...[]Customer) []Customer {
	seen := make(map[string]struct{})
	out := make([]Customer, 0)
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func connCustomerIDs(conns []Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.CustomerID)
	}
	return core.UniqueStrings(ids)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountCustomers(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Customer, error) {
	if id == "" {
		return Customer{}, ErrNotFound
	}
	return svc.repo.GetCustomer(ctx, id)
}

func (svc *service) Get(ctx context.Context, actor core.Actor, id string) (Customer, error) {
	c, err := svc.GetByID(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.IsCustomerUser():
		if c.ID != actor.CustomerID {
			return Customer{}, ErrNotFound
		}
	case actor.IsOrgUser():
		conns, err := svc.repo.QueryConnections(ctx, ConnectionFilter{CustomerID: c.ID, OrganizationID: actor.OrganizationID})
		if err != nil {
			return Customer{}, errors.Wrap(err, "querying connections")
		}
		if len(conns) > 0 {
			c.Connection = &conns[0]
		}
		// public customers stay visible so that a connection can be requested
		approved := c.Connection != nil && c.Connection.Status == ConnApproved
		if !(c.CreatedBy == actor.OrganizationID || approved || c.IsPublic) {
			return Customer{}, ErrNotFound
		}
	default:
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (svc *service) AccessibleIDs(ctx context.Context, actor core.Actor) ([]string, bool, error) {
	switch {
	case actor.IsSuperAdmin():
		return nil, true, nil
	case actor.IsCustomerUser():
		return []string{actor.CustomerID}, false, nil
	case actor.IsOrgUser():
		view, err := svc.organizationView(ctx, actor.OrganizationID)
		if err != nil {
			return nil, false, err
		}
		return core.UniqueStrings(append(view.created, view.approved()...)), false, nil
	}
	return []string{}, false, nil
}

func (svc *service) CanAccess(ctx context.Context, actor core.Actor, customerID string) error {
	if customerID == "" {
		return ErrNotFound
	}
	ids, all, err := svc.AccessibleIDs(ctx, actor)
	if err != nil {
		return err
	}
	if !all && !core.ContainsString(ids, customerID) {
		return ErrNotFound
	}
	return nil
}

func (svc *service) canManage(actor core.Actor, c Customer) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case actor.IsOrgUser():
		return c.CreatedBy != "" && c.CreatedBy == actor.OrganizationID
	case actor.IsCustomerAdmin():
		return c.ID == actor.CustomerID
	}
	return false
}

func (svc *service) Update(ctx context.Context, actor core.Actor, c Customer, uc UpdateCustomer) (Customer, error) {
	if !svc.canManage(actor, c) {
		return Customer{}, ErrNotAllowed
	}
	if uc.IsPublic != nil && !(actor.IsSuperAdmin() || actor.IsCustomerAdmin()) {
		return Customer{}, ErrNotAllowed
	}

	if uc.Name != "" {
		c.Name = uc.Name
	}
	if uc.Code != "" {
		c.Code = uc.Code
	}
	if uc.BusinessNumber != "" {
		c.BusinessNumber = uc.BusinessNumber
	}
	if uc.FullName != "" {
		c.FullName = uc.FullName
	}
	if uc.Address != "" {
		c.Address = uc.Address
	}
	if uc.Industry != "" {
		c.Industry = uc.Industry
	}
	if uc.SiteCategory != "" {
		c.SiteCategory = uc.SiteCategory
	}
	if uc.IsPublic != nil {
		c.IsPublic = *uc.IsPublic
	}
	if uc.IsActive != nil {
		c.IsActive = *uc.IsActive
	}
	c.UpdatedAt = time.Now().UTC()
	conn := c.Connection
	c, err := svc.repo.UpdateCustomer(ctx, c)
	if err != nil {
		return Customer{}, err
	}
	c.Connection = conn
	return c, nil
}

func (svc *service) Delete(ctx context.Context, actor core.Actor, id string) error {
	c, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !(actor.IsSuperAdmin() || (actor.IsOrgAdmin() && svc.canManage(actor, c))) {
		return ErrNotAllowed
	}
	n, err := svc.repo.DeleteCustomer(ctx, id)
	if err != nil {
		return errors.Wrap(err, "deleting customer")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) QueryConnections(ctx context.Context, actor core.Actor, filter ConnectionFilter) ([]Connection, error) {
	switch {
	case actor.IsSuperAdmin():
	case actor.IsOrgUser():
		filter.OrganizationID = actor.OrganizationID
	case actor.IsCustomerUser():
		filter.CustomerID = actor.CustomerID
	default:
		return []Connection{}, nil
	}
	return svc.repo.QueryConnections(ctx, filter)
}

func (svc *service) getConnection(ctx context.Context, id string) (Connection, error) {
	if id == "" {
		return Connection{}, ErrConnectionNotFound
	}
	return svc.repo.GetConnection(ctx, id)
}

// RequestConnection asks for a link between a customer and an organization.
// ORG_ADMINs request on behalf of their organization, CUSTOMER_ADMINs on behalf of their customer.
// A rejected or disconnected connection is reopened.
func (svc *service) RequestConnection(ctx context.Context, actor core.Actor, customerID string, req ConnectionRequest) (Connection, error) {
	c, err := svc.GetByID(ctx, customerID)
	if err != nil {
		return Connection{}, err
	}

	conn := Connection{CustomerID: c.ID, CustomCode: core.CleanString(req.CustomCode)}
	switch {
	case actor.IsOrgAdmin():
		if !(c.IsPublic || c.CreatedBy == actor.OrganizationID) {
			return Connection{}, ErrNotFound
		}
		conn.OrganizationID = actor.OrganizationID
		conn.RequestedBy = RequestedByOrganization
	case actor.IsCustomerAdmin():
		if c.ID != actor.CustomerID {
			return Connection{}, ErrNotFound
		}
		if conn.OrganizationID = core.CleanString(req.OrganizationID); conn.OrganizationID == "" {
			return Connection{}, core.NewValidationError(nil, core.FieldError{Field: "organizationId", Error: "this field is required"})
		}
		conn.RequestedBy = RequestedByCustomer
	default:
		return Connection{}, ErrConnectionForbidden
	}

	existing, err := svc.repo.QueryConnections(ctx, ConnectionFilter{CustomerID: conn.CustomerID, OrganizationID: conn.OrganizationID})
	if err != nil {
		return Connection{}, errors.Wrap(err, "querying connections")
	}

	now := time.Now().UTC()
	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if len(existing) > 0 {
			prev := existing[0]
			if prev.Status == ConnPending || prev.Status == ConnApproved {
				return core.NewValidationError(ErrConnectionExists)
			}
			prev.Status = ConnPending
			prev.RequestedBy = conn.RequestedBy
			if conn.CustomCode != "" {
				prev.CustomCode = conn.CustomCode
			}
			prev.UpdatedAt = now
			if conn, err = svc.repo.UpdateConnection(ctx, prev, core.Executors(exec)...); err != nil {
				return errors.Wrap(err, "reopening connection")
			}
		} else {
			conn.Status = ConnPending
			conn.CreatedAt = now
			conn.UpdatedAt = now
			if conn, err = svc.repo.CreateConnection(ctx, conn, core.Executors(exec)...); err != nil {
				return errors.Wrap(err, "creating connection")
			}
		}

		recipients, link := svc.organizationAdminIDs(ctx, conn.OrganizationID), "/org/customers?tab=connected"
		if conn.RequestedBy == RequestedByOrganization {
			recipients, link = svc.customerAdminIDs(ctx, conn.CustomerID), "/customer/connections"
		}
		return svc.notifSvc.Notify(ctx, recipients, notification.NewNotification{
			Type:    notification.TypeConnectionRequest,
			Title:   "연결 요청",
			Message: fmt.Sprintf("%s 연결 요청이 도착했습니다.", c.Name),
			Link:    link,
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// canDecide reports whether actor is on the receiving side of a pending request.
func canDecide(actor core.Actor, conn Connection) bool {
	switch {
	case actor.IsSuperAdmin():
		return true
	case conn.RequestedBy == RequestedByOrganization:
		return actor.IsCustomerAdmin() && actor.CustomerID == conn.CustomerID
	case conn.RequestedBy == RequestedByCustomer:
		return actor.IsOrgAdmin() && actor.OrganizationID == conn.OrganizationID
	}
	return false
}

func (svc *service) decide(ctx context.Context, actor core.Actor, connID, status string) (Connection, error) {
	conn, err := svc.getConnection(ctx, connID)
	if err != nil {
		return Connection{}, err
	}
	if !canDecide(actor, conn) {
		return Connection{}, ErrConnectionForbidden
	}
	if conn.Status != ConnPending {
		return Connection{}, core.NewValidationError(ErrConnectionNotPending)
	}

	err = core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		conn.Status = status
		conn.UpdatedAt = time.Now().UTC()
		if conn, err = svc.repo.UpdateConnection(ctx, conn, core.Executors(exec)...); err != nil {
			return errors.Wrap(err, "updating connection")
		}
		if status != ConnApproved {
			return nil
		}

		recipients := svc.customerAdminIDs(ctx, conn.CustomerID)
		if conn.RequestedBy == RequestedByOrganization {
			recipients = svc.organizationAdminIDs(ctx, conn.OrganizationID)
		}
		return svc.notifSvc.Notify(ctx, recipients, notification.NewNotification{
			Type:    notification.TypeConnectionApproved,
			Title:   "연결 승인",
			Message: "연결 요청이 승인되었습니다.",
		}, core.Executors(exec)...)
	})
	if err != nil {
		return Connection{}, err
	}
	return conn, nil
}

func (svc *service) ApproveConnection(ctx context.Context, actor core.Actor, connID string) (Connection, error) {
	return svc.decide(ctx, actor, connID, ConnApproved)
}

func (svc *service) RejectConnection(ctx context.Context, actor core.Actor, connID string) (Connection, error) {
	return svc.decide(ctx, actor, connID, ConnRejected)
}

func (svc *service) Disconnect(ctx context.Context, actor core.Actor, connID string) (Connection, error) {
	conn, err := svc.getConnection(ctx, connID)
	if err != nil {
		return Connection{}, err
	}
	allowed := actor.IsSuperAdmin() ||
		(actor.IsOrgAdmin() && actor.OrganizationID == conn.OrganizationID) ||
		(actor.IsCustomerAdmin() && actor.CustomerID == conn.CustomerID)
	if !allowed {
		return Connection{}, ErrConnectionForbidden
	}
	if conn.Status == ConnDisconnected {
		return conn, nil
	}
	conn.Status = ConnDisconnected
	conn.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateConnection(ctx, conn)
}

func (svc *service) SetCustomCode(ctx context.Context, actor core.Actor, connID, code string) (Connection, error) {
	conn, err := svc.getConnection(ctx, connID)
	if err != nil {
		return Connection{}, err
	}
	if !(actor.IsSuperAdmin() || (actor.IsOrgUser() && actor.OrganizationID == conn.OrganizationID)) {
		return Connection{}, ErrConnectionForbidden
	}
	conn.CustomCode = core.CleanString(code)
	conn.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateConnection(ctx, conn)
}

func userIDs(users []user.User) []string {
	ids := make([]string, 0, len(users))
	for _, usr := range users {
		ids = append(ids, usr.ID)
	}
	return ids
}

// organizationAdminIDs lists the active ORG_ADMINs to notify; lookup failures only mean nobody gets notified.
func (svc *service) organizationAdminIDs(ctx context.Context, orgID string) []string {
	admins, err := svc.usrSvc.ActiveOrganizationAdmins(ctx, orgID)
	if err != nil {
		return nil
	}
	return userIDs(admins)
}

func (svc *service) customerAdminIDs(ctx context.Context, customerID string) []string {
	active := true
	admins, err := svc.usrSvc.Query(ctx, core.SystemActor, &user.QueryFilter{
		CustomerID: customerID,
		Roles:      []string{core.RoleCustomerAdmin},
		Status:     user.StatusApproved,
		IsActive:   &active,
	}, nil)
	if err != nil {
		return nil
	}
	return userIDs(admins)
}
