// Package inmemdb implements the repositories in memory, for tests and local runs without PostgreSQL.
package inmemdb

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/limit"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/stack"
	"github.com/tigrofin/pmms/core/staging"
	"github.com/tigrofin/pmms/core/user"
)

// DB holds every table; one lock guards them all.
type DB struct {
	mutex sync.RWMutex

	users         map[string]user.User
	organizations map[string]organization.Organization
	customers     map[string]customer.Customer
	connections   map[string]customer.Connection
	contracts     map[string]contract.Contract
	stacks        map[string]stack.Stack
	assignments   []stack.Assignment
	histories     []stack.History
	requests      map[string]stack.Request
	items         map[string]item.Item
	limits        map[string]limit.EmissionLimit
	measurements  map[string]measurement.Measurement
	staged        map[string]staging.Staged
	notifications map[string]notification.Notification
	activities    []activity.ActivityLog
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]user.User),
		organizations: make(map[string]organization.Organization),
		customers:     make(map[string]customer.Customer),
		connections:   make(map[string]customer.Connection),
		contracts:     make(map[string]contract.Contract),
		stacks:        make(map[string]stack.Stack),
		requests:      make(map[string]stack.Request),
		items:         make(map[string]item.Item),
		limits:        make(map[string]limit.EmissionLimit),
		measurements:  make(map[string]measurement.Measurement),
		staged:        make(map[string]staging.Staged),
		notifications: make(map[string]notification.Notification),
	}
}

func newID() string {
	return uuid.New().String()
}

// sortable formats v so that string comparison follows its natural order.
func sortable(v interface{}) string {
	switch v := v.(type) {
	case string:
		return strings.ToLower(v)
	case int:
		return fmt.Sprintf("%020d", v)
	case bool:
		return fmt.Sprint(v)
	case time.Time:
		return v.UTC().Format("20060102150405.000000000")
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format("20060102150405.000000000")
	}
	return fmt.Sprint(v)
}

// orderBy sorts list by ordering; field returns the value of column col of list[i].
func orderBy(list interface{}, ordering []core.DBOrdering, field func(i int, col string) interface{}) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(list, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := sortable(field(i, ord.Field)), sortable(field(j, ord.Field))
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return false
	})
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func excluded(id string, ids []string) bool {
	return core.ContainsString(ids, id)
}
