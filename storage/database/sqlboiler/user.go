package boiledrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/user"
)

type userRow struct {
	ID                    string      `boil:"id"`
	Email                 string      `boil:"email"`
	Name                  string      `boil:"name"`
	Phone                 string      `boil:"phone"`
	Role                  string      `boil:"role"`
	Status                string      `boil:"status"`
	IsActive              bool        `boil:"is_active"`
	OrganizationID        null.String `boil:"organization_id"`
	CustomerID            null.String `boil:"customer_id"`
	Department            string      `boil:"department"`
	Position              string      `boil:"position"`
	PasswordHash          []byte      `boil:"password_hash"`
	PasswordResetRequired bool        `boil:"password_reset_required"`
	LoginCount            int         `boil:"login_count"`
	LastLogin             null.Time   `boil:"last_login"`
	CreatedAt             time.Time   `boil:"created_at"`
	UpdatedAt             time.Time   `boil:"updated_at"`
}

var userColumns = []string{
	"id", "email", "name", "phone", "role", "status", "is_active", "organization_id", "customer_id",
	"department", "position", "password_hash", "password_reset_required", "login_count", "last_login",
	"created_at", "updated_at",
}

type userRepository struct {
	baseRepo
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{baseRepo{exec: exec}}
}

func (repo userRepository) values(usr user.User) []interface{} {
	return []interface{}{
		usr.ID, usr.Email, usr.Name, usr.Phone, usr.Role, usr.Status, usr.IsActive,
		nullID(usr.OrganizationID), nullID(usr.CustomerID), usr.Department, usr.Position, usr.PasswordHash,
		usr.PasswordResetRequired, usr.LoginCount, null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(),
	}
}

func (repo userRepository) unboil(row userRow) user.User {
	return user.User{
		ID:                    row.ID,
		Email:                 row.Email,
		Name:                  row.Name,
		Phone:                 row.Phone,
		Role:                  row.Role,
		Status:                row.Status,
		IsActive:              row.IsActive,
		OrganizationID:        row.OrganizationID.String,
		CustomerID:            row.CustomerID.String,
		Department:            row.Department,
		Position:              row.Position,
		PasswordHash:          row.PasswordHash,
		PasswordResetRequired: row.PasswordResetRequired,
		LoginCount:            row.LoginCount,
		LastLogin:             row.LastLogin.Time,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	mods := []qm.QueryMod{qm.Where("lower(email) = ?", strings.ToLower(email))}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		mods = append(mods, whereNotIn("id", ids))
	}

	n, err := repo.count(ctx, tableUsers, mods, exec)
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if n > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	if err := repo.insert(ctx, tableUsers, userColumns, repo.values(usr), exec); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) filterMods(filter *user.QueryFilter) []qm.QueryMod {
	var mods []qm.QueryMod
	if filter == nil {
		return mods
	}
	// users with Name or Email matching the search keyword
	if filter.Search != "" {
		mods = append(mods, search(filter.Search, "name", "email"))
	}
	if len(filter.Roles) > 0 {
		mods = append(mods, whereIn("role", filter.Roles))
	}
	if filter.Status != "" {
		mods = append(mods, qm.Where("status = ?", filter.Status))
	}
	if filter.IsActive != nil {
		mods = append(mods, qm.Where("is_active = ?", *filter.IsActive))
	}
	if filter.OrganizationID != "" {
		mods = append(mods, whereID("organization_id", filter.OrganizationID))
	}
	if filter.CustomerID != "" {
		mods = append(mods, whereID("customer_id", filter.CustomerID))
	}
	return mods
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	mods := repo.filterMods(filter)
	if len(ordering) > 0 {
		mods = append(mods, orderBy(ordering, ""))
	}

	var rows []userRow
	if err := newQuery(tableUsers, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.unboil(row))
	}
	return users, nil
}

func (repo userRepository) CountUsers(ctx context.Context, filter *user.QueryFilter, exec ...core.DBExecutor) (int, error) {
	n, err := repo.count(ctx, tableUsers, repo.filterMods(filter), exec)
	if err != nil {
		return 0, errors.Wrap(err, "counting users")
	}
	return n, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var mod qm.QueryMod
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		mod = qm.Where("id = ?", filter.ID)
	case filter.Email != "":
		mod = qm.Where("lower(email) = ?", strings.ToLower(filter.Email))
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := newQuery(tableUsers, mod, qm.Limit(1)).Bind(ctx, repo.getExec(exec), &row); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.unboil(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	n, err := repo.update(ctx, tableUsers, userColumns[1:], repo.values(usr)[1:], "id = ?", []interface{}{usr.ID}, exec)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	cnt, err := repo.deleteAll(ctx, tableUsers, []qm.QueryMod{whereIn("id", validIDs(ids))}, exec)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return cnt, nil
}
