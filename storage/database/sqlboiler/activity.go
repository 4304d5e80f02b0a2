package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
)

type activityRow struct {
	ID        string    `boil:"id"`
	UserID    string    `boil:"user_id"`
	Action    string    `boil:"action"`
	Details   string    `boil:"details"`
	CreatedAt time.Time `boil:"created_at"`
}

type activityRepository struct {
	baseRepo
}

var _ activity.Repository = (*activityRepository)(nil)

func NewActivityRepository(exec core.DBExecutor) *activityRepository {
	return &activityRepository{baseRepo{exec: exec}}
}

func (repo activityRepository) CreateActivity(ctx context.Context, act activity.ActivityLog, exec ...core.DBExecutor) (activity.ActivityLog, error) {
	act.ID = uuid.New().String()
	err := repo.insert(ctx, tableActivities,
		[]string{"id", "user_id", "action", "details", "created_at"},
		[]interface{}{act.ID, act.UserID, act.Action, act.Details, act.CreatedAt.UTC()}, exec,
	)
	if err != nil {
		return activity.ActivityLog{}, errors.Wrap(err, "inserting activity")
	}
	return act, nil
}

func (repo activityRepository) QueryRecentActivities(ctx context.Context, limit int, exec ...core.DBExecutor) ([]activity.ActivityLog, error) {
	var rows []activityRow
	q := newQuery(tableActivities, qm.OrderBy("created_at DESC"), qm.Limit(limit))
	if err := q.Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying activities")
	}
	acts := make([]activity.ActivityLog, 0, len(rows))
	for _, row := range rows {
		acts = append(acts, activity.ActivityLog{
			ID:        row.ID,
			UserID:    row.UserID,
			Action:    row.Action,
			Label:     activity.Label(row.Action),
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	return acts, nil
}
