package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/notification"
)

type notificationRow struct {
	ID        string    `boil:"id"`
	UserID    string    `boil:"user_id"`
	Type      string    `boil:"type"`
	Title     string    `boil:"title"`
	Message   string    `boil:"message"`
	Link      string    `boil:"link"`
	IsRead    bool      `boil:"is_read"`
	CreatedAt time.Time `boil:"created_at"`
}

var notificationColumns = []string{"id", "user_id", "type", "title", "message", "link", "is_read", "created_at"}

type notificationRepository struct {
	baseRepo
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{baseRepo{exec: exec}}
}

func (repo notificationRepository) CreateNotifications(ctx context.Context, notifs []notification.Notification, exec ...core.DBExecutor) error {
	for _, n := range notifs {
		vals := []interface{}{
			uuid.New().String(), n.UserID, n.Type, n.Title, n.Message, n.Link, n.IsRead, n.CreatedAt.UTC(),
		}
		if err := repo.insert(ctx, tableNotifications, notificationColumns, vals, exec); err != nil {
			return errors.Wrap(err, "inserting notification")
		}
	}
	return nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	mods := []qm.QueryMod{whereID("user_id", filter.UserID), qm.OrderBy("created_at DESC")}
	if filter.UnreadOnly {
		mods = append(mods, qm.Where("is_read = false"))
	}
	if filter.Limit > 0 {
		mods = append(mods, qm.Limit(filter.Limit))
	}

	var rows []notificationRow
	if err := newQuery(tableNotifications, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, notification.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Type:      row.Type,
			Title:     row.Title,
			Message:   row.Message,
			Link:      row.Link,
			IsRead:    row.IsRead,
			CreatedAt: row.CreatedAt,
		})
	}
	return notifs, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	mods := []qm.QueryMod{whereID("user_id", userID), qm.Where("is_read = false")}
	n, err := repo.count(ctx, tableNotifications, mods, exec)
	return n, errors.Wrap(err, "counting unread notifications")
}

func (repo notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return 0, nil
	}
	where, args := "user_id = ? AND is_read = false", []interface{}{userID}
	if len(ids) > 0 {
		// explicit ids match even when already read
		ids = validIDs(ids)
		if len(ids) == 0 {
			return 0, nil
		}
		where = "user_id = ? AND id IN (" + placeholdersQ(len(ids)) + ")"
		args = append(args, interfaces(ids)...)
	}
	n, err := repo.update(ctx, tableNotifications, []string{"is_read"}, []interface{}{true}, where, args, exec)
	return n, errors.Wrap(err, "marking notifications read")
}

func (repo notificationRepository) DeleteNotification(ctx context.Context, userID, id string, exec ...core.DBExecutor) (int, error) {
	mods := []qm.QueryMod{whereID("user_id", userID), whereID("id", id)}
	n, err := repo.deleteAll(ctx, tableNotifications, mods, exec)
	return n, errors.Wrap(err, "deleting notification")
}
