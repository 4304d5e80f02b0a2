package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
)

func testConfig() *core.Config {
	conf := core.NewTestConfig()
	conf.Database = core.DatabaseConfig{
		Engine:        "postgres",
		Host:          "db",
		Port:          "5432",
		Name:          "pmms",
		User:          "pmms",
		Password:      "p@ss'word",
		AdminUser:     "postgres",
		AdminPassword: "root",
		DisableTLS:    true,
	}
	return conf
}

func Test_dsn(t *testing.T) {
	conf := testConfig()

	tests := []struct {
		name     string
		dbName   string
		admin    bool
		wantUser string
		wantPass string
	}{
		{name: "app role", dbName: "pmms", wantUser: "pmms", wantPass: "p@ss'word"},
		{name: "admin role", dbName: maintenanceDB, admin: true, wantUser: "postgres", wantPass: "root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(dsn(tt.dbName, tt.admin, conf))
			if !assert.NoError(t, err) {
				return
			}
			pass, _ := u.User.Password()
			assert.Equal(t, tt.wantUser, u.User.Username())
			assert.Equal(t, tt.wantPass, pass)
			assert.Equal(t, "db:5432", u.Host)
			assert.Equal(t, "/"+tt.dbName, u.Path)
			assert.Equal(t, "disable", u.Query().Get("sslmode"))
			assert.Equal(t, "UTC", u.Query().Get("timezone"))
			assert.Equal(t, "PMMS", u.Query().Get("application_name"))
		})
	}

	t.Run("admin falls back to the app role", func(t *testing.T) {
		conf := testConfig()
		conf.Database.AdminUser = ""
		conf.Database.DisableTLS = false
		u, err := url.Parse(dsn(maintenanceDB, true, conf))
		if assert.NoError(t, err) {
			assert.Equal(t, "pmms", u.User.Username())
			assert.Equal(t, "require", u.Query().Get("sslmode"))
		}
	})
}

func Test_createStmts(t *testing.T) {
	conf := testConfig()
	conf.Database.Name = "pmms-qa"

	assert.Equal(t, `CREATE ROLE "pmms" LOGIN CREATEDB PASSWORD 'p@ss''word'`, createRoleStmt(conf))
	assert.Equal(t, []string{
		`CREATE DATABASE "pmms-qa" TEMPLATE template0 ENCODING 'UTF8'`,
		`ALTER DATABASE "pmms-qa" SET timezone TO 'UTC'`,
	}, createDatabaseStmts(conf))
}
