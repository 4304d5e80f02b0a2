// Package boiledrepos implements the repositories on PostgreSQL with the sqlboiler query builder.
package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
)

// Tables
const (
	tableOrganizations  = "organizations"
	tableCustomers      = "customers"
	tableConnections    = "customer_organizations"
	tableUsers          = "users"
	tableContracts      = "contracts"
	tableStacks         = "stacks"
	tableAssignments    = "stack_organizations"
	tableStackHistories = "stack_histories"
	tableStackRequests  = "stack_requests"
	tableItems          = "items"
	tableLimits         = "emission_limits"
	tableMeasurements   = "measurements"
	tableStaged         = "staged_measurements"
	tableNotifications  = "notifications"
	tableActivities     = "activity_logs"
)

var dialect = drivers.Dialect{
	LQ:                   '"',
	RQ:                   '"',
	UseIndexPlaceholders: true,
	UseDefaultKeyword:    true,
}

// newQuery builds a query on table with the postgres dialect.
func newQuery(table string, mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	queries.SetFrom(q, table)
	qm.Apply(q, mods...)
	return q
}

type baseRepo struct {
	exec core.DBExecutor
}

func (repo baseRepo) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

func (repo baseRepo) count(ctx context.Context, table string, mods []qm.QueryMod, exec []core.DBExecutor) (int, error) {
	q := newQuery(table, mods...)
	queries.SetCount(q)
	var n int64
	if err := q.QueryRowContext(ctx, repo.getExec(exec)).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (repo baseRepo) deleteAll(ctx context.Context, table string, mods []qm.QueryMod, exec []core.DBExecutor) (int, error) {
	q := newQuery(table, mods...)
	queries.SetDelete(q)
	res, err := q.ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// insert runs an INSERT of the given columns & values.
func (repo baseRepo) insert(ctx context.Context, table string, cols []string, vals []interface{}, exec []core.DBExecutor) error {
	_, err := queries.Raw(
		fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(1, len(cols))),
		vals...,
	).ExecContext(ctx, repo.getExec(exec))
	return err
}

// update runs an UPDATE of the given columns & values on the row matching `where` (its args follow vals).
func (repo baseRepo) update(ctx context.Context, table string, cols []string, vals []interface{}, where string, whereArgs []interface{}, exec []core.DBExecutor) (int, error) {
	sets := make([]string, 0, len(cols))
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	for i := range whereArgs {
		where = strings.Replace(where, "?", fmt.Sprintf("$%d", len(cols)+i+1), 1)
	}
	res, err := queries.Raw(
		fmt.Sprintf("UPDATE %q SET %s WHERE %s", table, strings.Join(sets, ", "), where),
		append(vals, whereArgs...)...,
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func placeholders(from, n int) string {
	ph := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ph = append(ph, fmt.Sprintf("$%d", from+i))
	}
	return strings.Join(ph, ", ")
}

// placeholdersQ returns n comma separated `?` placeholders.
func placeholdersQ(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func orderBy(ordering []core.DBOrdering, prefix string) qm.QueryMod {
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, prefix+ord.String())
	}
	return qm.OrderBy(strings.Join(orderList, ", "))
}

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// nullID maps an empty id to NULL.
func nullID(id string) null.String {
	return null.NewString(id, id != "")
}

// validIDs drops the malformed uuids, which postgres would reject.
func validIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	return valid
}

// whereID matches col against id; a malformed uuid matches nothing.
func whereID(col, id string) qm.QueryMod {
	if _, err := uuid.Parse(id); err != nil {
		return qm.Where("false")
	}
	return qm.Where(col+" = ?", id)
}

// interfaces converts strings to query arguments.
func interfaces(list []string) []interface{} {
	args := make([]interface{}, 0, len(list))
	for _, s := range list {
		args = append(args, s)
	}
	return args
}

// whereIn matches col against list; an empty list matches nothing.
func whereIn(col string, list []string) qm.QueryMod {
	if len(list) == 0 {
		return qm.Where("false")
	}
	return qm.WhereIn(col+" IN ?", interfaces(list)...)
}

func whereNotIn(col string, list []string) qm.QueryMod {
	if len(list) == 0 {
		return qm.Where("true")
	}
	return qm.Where(col+" NOT IN ("+placeholdersQ(len(list))+")", interfaces(list)...)
}

// search matches the keyword against any of cols, case-insensitively.
func search(keyword string, cols ...string) qm.QueryMod {
	val := "%" + keyword + "%"
	conds := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		conds = append(conds, col+" ILIKE ?")
		args = append(args, val)
	}
	return qm.Expr(qm.Where(strings.Join(conds, " OR "), args...))
}
