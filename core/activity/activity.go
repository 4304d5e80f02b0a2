package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

// Actions
const (
	ActionLogin                = "LOGIN"
	ActionRegisterOrganization = "REGISTER_ORGANIZATION"
	ActionApproveOrganization  = "APPROVE_ORGANIZATION"
	ActionApproveUser          = "APPROVE_USER"
	ActionRejectUser           = "REJECT_USER"
	ActionCreateMeasurement    = "CREATE_MEASUREMENT"
	ActionUpdateMeasurement    = "UPDATE_MEASUREMENT"
	ActionDeleteMeasurement    = "DELETE_MEASUREMENT"
	ActionImportMeasurements   = "IMPORT_MEASUREMENTS"
	ActionCheckContracts       = "CHECK_CONTRACTS"
	ActionStageMeasurements    = "STAGE_MEASUREMENTS"
	ActionConfirmMeasurements  = "CONFIRM_MEASUREMENTS"
	ActionDeleteStaged         = "DELETE_STAGED_MEASUREMENTS"
	ActionRequestStack         = "REQUEST_NEW_STACK"
	ActionApproveStackRequest  = "APPROVE_STACK_REQUEST"
	ActionRejectStackRequest   = "REJECT_STACK_REQUEST"
)

var actionLabels = map[string]string{
	ActionLogin:                "로그인",
	ActionRegisterOrganization: "기업 가입 신청",
	ActionApproveOrganization:  "기업 승인",
	ActionApproveUser:          "사용자 승인",
	ActionRejectUser:           "사용자 거절",
	ActionCreateMeasurement:    "측정 데이터 등록",
	ActionUpdateMeasurement:    "측정 데이터 수정",
	ActionDeleteMeasurement:    "측정 데이터 삭제",
	ActionImportMeasurements:   "측정 데이터 일괄 업로드",
	ActionCheckContracts:       "계약 만료 점검",
	ActionStageMeasurements:    "측정 데이터 임시저장",
	ActionConfirmMeasurements:  "임시저장 데이터 확정",
	ActionDeleteStaged:         "임시저장 데이터 삭제",
	ActionRequestStack:         "굴뚝 등록 요청",
	ActionApproveStackRequest:  "굴뚝 요청 승인",
	ActionRejectStackRequest:   "굴뚝 요청 거절",
}

// Label returns the display label of an action, the action itself when unknown.
func Label(action string) string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	return action
}

type ActivityLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Label     string    `json:"label"`
	Details   string    `json:"details"` // JSON
	CreatedAt time.Time `json:"createdAt"`
}

type (
	Repository interface {
		CreateActivity(ctx context.Context, act ActivityLog, exec ...core.DBExecutor) (ActivityLog, error)
		// QueryRecentActivities returns the `limit` latest activities, newest first.
		QueryRecentActivities(ctx context.Context, limit int, exec ...core.DBExecutor) ([]ActivityLog, error)
	}

	Service interface {
		// Record saves an activity; failures are logged, never returned.
		Record(ctx context.Context, userID, action string, details map[string]interface{}, exec ...core.DBExecutor)
		Recent(ctx context.Context, limit int) ([]ActivityLog, error)
	}

	service struct {
		repo   Repository
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, logger core.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (svc *service) Record(ctx context.Context, userID, action string, details map[string]interface{}, exec ...core.DBExecutor) {
	act := ActivityLog{
		UserID:    userID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("encoding %s activity details: %v", action, err), err)
		} else {
			act.Details = string(data)
		}
	}
	if _, err := svc.repo.CreateActivity(ctx, act, exec...); err != nil {
		svc.logger.Error(fmt.Sprintf("recording %s activity: %v", action, err), errors.Wrap(err, "recording activity"))
	}
}

func (svc *service) Recent(ctx context.Context, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 10
	}
	acts, err := svc.repo.QueryRecentActivities(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying recent activities")
	}
	for i := range acts {
		acts[i].Label = Label(acts[i].Action)
	}
	return acts, nil
}
