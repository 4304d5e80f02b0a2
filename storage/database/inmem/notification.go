package inmemdb

import (
	"context"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotifications(ctx context.Context, notifs []notification.Notification, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, n := range notifs {
		n.ID = newID()
		repo.db.notifications[n.ID] = n
	}
	return nil
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	notifs := make([]notification.Notification, 0)
	for _, n := range repo.db.notifications {
		if n.UserID == filter.UserID && !(filter.UnreadOnly && n.IsRead) {
			notifs = append(notifs, n)
		}
	}
	orderBy(notifs, []core.DBOrdering{{Field: "created_at"}}, func(i int, _ string) interface{} {
		return notifs[i].CreatedAt
	})
	if filter.Limit > 0 && len(notifs) > filter.Limit {
		notifs = notifs[:filter.Limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var cnt int
	for _, n := range repo.db.notifications {
		if n.UserID == userID && !n.IsRead {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var cnt int
	for id, n := range repo.db.notifications {
		if n.UserID != userID {
			continue
		}
		if len(ids) > 0 && !core.ContainsString(ids, id) {
			continue
		}
		if len(ids) == 0 && n.IsRead {
			continue
		}
		n.IsRead = true
		repo.db.notifications[id] = n
		cnt++
	}
	return cnt, nil
}

func (repo *notificationRepository) DeleteNotification(ctx context.Context, userID, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if n, ok := repo.db.notifications[id]; ok && n.UserID == userID {
		delete(repo.db.notifications, id)
		return 1, nil
	}
	return 0, nil
}

type activityRepository struct {
	db *DB
}

var _ activity.Repository = (*activityRepository)(nil)

func NewActivityRepository(db *DB) *activityRepository {
	return &activityRepository{db: db}
}

func (repo *activityRepository) CreateActivity(ctx context.Context, act activity.ActivityLog, exec ...core.DBExecutor) (activity.ActivityLog, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	act.ID = newID()
	repo.db.activities = append(repo.db.activities, act)
	return act, nil
}

func (repo *activityRepository) QueryRecentActivities(ctx context.Context, limit int, exec ...core.DBExecutor) ([]activity.ActivityLog, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	acts := make([]activity.ActivityLog, 0)
	for i := len(repo.db.activities) - 1; i >= 0 && len(acts) < limit; i-- {
		act := repo.db.activities[i]
		act.Label = activity.Label(act.Action)
		acts = append(acts, act)
	}
	return acts, nil
}
