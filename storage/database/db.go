package database

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/tigrofin/pmms/core"
	appfs "github.com/tigrofin/pmms/fs"
)

// maintenanceDB is the database the admin role connects to before the app database exists.
const maintenanceDB = "postgres"

// dsn builds the connection URL of dbName, as the admin role when admin is set and one is configured.
func dsn(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "UTC")
	q.Set("application_name", conf.AppName)

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func open(dbName string, admin bool, conf *core.Config) (*sql.DB, error) {
	return sql.Open(conf.Database.Engine, dsn(dbName, admin, conf))
}

// Open connects the app role to the app database, with the configured pool limits.
func Open(conf *core.Config) (*sql.DB, error) {
	db, err := open(conf.Database.Name, false, conf)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conf.Database.MaxOpenConns)
	db.SetMaxIdleConns(conf.Database.MaxIdleConns)
	db.SetConnMaxLifetime(conf.Database.ConnMaxLifetime)
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sql.DB) error {
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping")
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

func exists(ctx context.Context, db *sql.DB, query, name string) (bool, error) {
	var found bool
	err := db.QueryRowContext(ctx, query, name).Scan(&found)
	return found, err
}

func createRoleStmt(conf *core.Config) string {
	return "CREATE ROLE " + pq.QuoteIdentifier(conf.Database.User) +
		" LOGIN CREATEDB PASSWORD " + pq.QuoteLiteral(conf.Database.Password)
}

// createDatabaseStmts creates the app database: UTF-8 for the Korean names of items & sites,
// sessions in UTC since every timestamp is stored in UTC.
func createDatabaseStmts(conf *core.Config) []string {
	name := pq.QuoteIdentifier(conf.Database.Name)
	return []string{
		"CREATE DATABASE " + name + " TEMPLATE template0 ENCODING 'UTF8'",
		"ALTER DATABASE " + name + " SET timezone TO 'UTC'",
	}
}

func createAppRole(ctx context.Context, db *sql.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}
	found, err := exists(ctx, db, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app role")
	}
	if found {
		return nil
	}
	_, err = db.ExecContext(ctx, createRoleStmt(conf))
	return errors.Wrap(err, "creating app role")
}

func createAppDB(ctx context.Context, db *sql.DB, conf *core.Config) error {
	found, err := exists(ctx, db, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking app database")
	}
	if found {
		return nil
	}
	for _, stmt := range createDatabaseStmts(conf) {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating app database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app role (as the admin role) then the app database, owned by the app role.
func CreateIfNotExist(ctx context.Context, conf *core.Config) error {
	admin, err := open(maintenanceDB, true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = admin.Close() }()

	if err = ping(ctx, admin); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppRole(ctx, admin, conf); err != nil {
		return err
	}

	db, err := open(maintenanceDB, false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return createAppDB(ctx, db, conf)
}

// Migrate runs the goose `command` (up, down, status, ...) against the embedded migrations.
func Migrate(db *sql.DB, command string, args ...string) error {
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migrations dialect")
	}
	if err := goose.Run(command, db, "migrations", args...); err != nil {
		return errors.Wrapf(err, "running migrations %s", command)
	}
	return nil
}
