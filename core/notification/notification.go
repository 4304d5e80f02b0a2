package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

// Types
const (
	TypeContractExpiring     = "CONTRACT_EXPIRING"
	TypeStackCreated         = "STACK_CREATED"
	TypeConnectionRequest    = "CONNECTION_REQUEST"
	TypeConnectionApproved   = "CONNECTION_APPROVED"
	TypeOrganizationApproved = "ORGANIZATION_APPROVED"
	TypeStackRequest         = "STACK_REQUEST"
	TypeStackRequestDecided  = "STACK_REQUEST_DECIDED"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewNotification is the content sent to every recipient of a notification.
type NewNotification struct {
	Type    string
	Title   string
	Message string
	Link    string
}

type QueryFilter struct {
	UserID     string `query:"-"`
	UnreadOnly bool   `query:"unread"`
	Limit      int    `query:"limit"`
}

type (
	Repository interface {
		CreateNotifications(ctx context.Context, notifs []Notification, exec ...core.DBExecutor) error
		// QueryNotifications returns the notifications of filter.UserID, newest first.
		QueryNotifications(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// MarkRead marks the given notifications of userID as read; all of them when no id is given.
		MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error)
		DeleteNotification(ctx context.Context, userID, id string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Notify(ctx context.Context, userIDs []string, n NewNotification, exec ...core.DBExecutor) error
		Query(ctx context.Context, filter QueryFilter) ([]Notification, error)
		UnreadCount(ctx context.Context, userID string) (int, error)
		MarkRead(ctx context.Context, userID, id string) error
		MarkAllRead(ctx context.Context, userID string) (int, error)
		Delete(ctx context.Context, userID, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Notify(ctx context.Context, userIDs []string, n NewNotification, exec ...core.DBExecutor) error {
	userIDs = core.UniqueStrings(userIDs)
	if len(userIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	notifs := make([]Notification, 0, len(userIDs))
	for _, id := range userIDs {
		notifs = append(notifs, Notification{
			UserID:    id,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			CreatedAt: now,
		})
	}
	return errors.Wrap(svc.repo.CreateNotifications(ctx, notifs, exec...), "creating notifications")
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Notification, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return svc.repo.QueryNotifications(ctx, filter)
}

func (svc *service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return svc.repo.CountUnread(ctx, userID)
}

func (svc *service) MarkRead(ctx context.Context, userID, id string) error {
	n, err := svc.repo.MarkRead(ctx, userID, []string{id})
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return svc.repo.MarkRead(ctx, userID, nil)
}

func (svc *service) Delete(ctx context.Context, userID, id string) error {
	n, err := svc.repo.DeleteNotification(ctx, userID, id)
	if err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
