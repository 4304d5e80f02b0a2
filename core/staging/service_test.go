package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/measurement"
)

func TestTempIDPrefix(t *testing.T) {
	// 2024-03-15 16:30 UTC is already the 16th in Seoul
	at := time.Date(2024, 3, 15, 16, 30, 0, 0, time.UTC)
	assert.Equal(t, "TEMP20240316", TempIDPrefix(at))
	assert.Equal(t, "TEMP20240316007", formatTempID(TempIDPrefix(at), 7))
	assert.Equal(t, "TEMP202403161000", formatTempID(TempIDPrefix(at), 1000))
}

func TestBulkRows(t *testing.T) {
	var aux measurement.Auxiliary
	assert.NoError(t, aux.Set("weather", "맑음"))
	assert.NoError(t, aux.Set("temperature", "21.5"))
	s := Staged{
		CustomerID: "c1",
		StackName:  "#1",
		MeasuredAt: time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC),
		Values:     []Value{{ItemKey: "EA-I-0001", Value: 12.5}},
		Auxiliary:  aux,
	}

	assert.Equal(t, []measurement.BulkRow{
		{Customer: "c1", Stack: "#1", ItemKey: "EA-I-0001", Value: "12.5", MeasuredAt: "20240315093000"},
		{Customer: "c1", Stack: "#1", ItemKey: "weather", Value: "맑음", MeasuredAt: "20240315093000"},
		{Customer: "c1", Stack: "#1", ItemKey: "temperature", Value: "21.5", MeasuredAt: "20240315093000"},
	}, bulkRows(s))
}

func TestScope(t *testing.T) {
	tests := []struct {
		name    string
		actor   core.Actor
		filter  QueryFilter
		want    QueryFilter
		visible bool
	}{
		{
			name:    "super admin",
			actor:   core.Actor{UserID: "u0", Role: core.RoleSuperAdmin},
			filter:  QueryFilter{CustomerID: "c1"},
			want:    QueryFilter{CustomerID: "c1"},
			visible: true,
		},
		{
			name:    "organization admin",
			actor:   core.Actor{UserID: "u1", Role: core.RoleOrgAdmin, OrganizationID: "o1"},
			filter:  QueryFilter{CreatedBy: "u2"},
			want:    QueryFilter{CreatedBy: "u2", OrganizationID: "o1"},
			visible: true,
		},
		{
			name:    "operator",
			actor:   core.Actor{UserID: "u2", Role: core.RoleOperator, OrganizationID: "o1"},
			want:    QueryFilter{CreatedBy: "u2"},
			visible: true,
		},
		{
			name:   "operator asking for a colleague",
			actor:  core.Actor{UserID: "u2", Role: core.RoleOperator, OrganizationID: "o1"},
			filter: QueryFilter{CreatedBy: "u3"},
			want:   QueryFilter{CreatedBy: "u3"},
		},
		{
			name:    "customer user",
			actor:   core.Actor{UserID: "u4", Role: core.RoleCustomerUser, CustomerID: "c1"},
			want:    QueryFilter{CustomerID: "c1"},
			visible: true,
		},
		{
			name:   "customer user asking for another customer",
			actor:  core.Actor{UserID: "u4", Role: core.RoleCustomerUser, CustomerID: "c1"},
			filter: QueryFilter{CustomerID: "c2"},
			want:   QueryFilter{CustomerID: "c2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := tt.filter
			assert.Equal(t, tt.visible, scope(tt.actor, &filter))
			assert.Equal(t, tt.want, filter)
		})
	}
}

func TestCanModify(t *testing.T) {
	s := Staged{OrganizationID: "o1", CustomerID: "c1", CreatedBy: "u2"}
	assert.True(t, canModify(core.Actor{UserID: "u1", Role: core.RoleOrgAdmin, OrganizationID: "o1"}, s))
	assert.False(t, canModify(core.Actor{UserID: "u9", Role: core.RoleOrgAdmin, OrganizationID: "o2"}, s))
	assert.True(t, canModify(core.Actor{UserID: "u2", Role: core.RoleOperator, OrganizationID: "o1"}, s))
	assert.False(t, canModify(core.Actor{UserID: "u3", Role: core.RoleOperator, OrganizationID: "o1"}, s))
	assert.False(t, canModify(core.Actor{UserID: "u4", Role: core.RoleCustomerAdmin, CustomerID: "c1"}, s))
	assert.True(t, canSee(core.Actor{UserID: "u4", Role: core.RoleCustomerAdmin, CustomerID: "c1"}, s))
}

func TestBounds(t *testing.T) {
	filter := QueryFilter{Start: "2024-03-15", End: "2024-03-16"}
	assert.NoError(t, bounds(&filter))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, measurement.Location), filter.From)
	assert.Equal(t, time.Date(2024, 3, 16, 23, 59, 59, 999000000, measurement.Location), filter.To)

	filter = QueryFilter{End: "yesterday"}
	assert.Error(t, bounds(&filter))
}
