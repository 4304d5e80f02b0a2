// Package shared wires the services both binaries run on, against PostgreSQL or in-memory storage.
package shared

import (
	"context"
	"database/sql"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	echoapi "github.com/tigrofin/pmms/apps/api/echo"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/activity"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/limit"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/report"
	"github.com/tigrofin/pmms/core/stack"
	"github.com/tigrofin/pmms/core/staging"
	"github.com/tigrofin/pmms/core/user"
	appfs "github.com/tigrofin/pmms/fs"
	emailsvc "github.com/tigrofin/pmms/services/email"
	logsvc "github.com/tigrofin/pmms/services/logger"
	"github.com/tigrofin/pmms/storage/database"
	inmemdb "github.com/tigrofin/pmms/storage/database/inmem"
	boiledrepos "github.com/tigrofin/pmms/storage/database/sqlboiler"
	sqlxrepos "github.com/tigrofin/pmms/storage/database/sqlx"
)

// App holds the configured services.
type App struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *sql.DB // nil with in-memory storage
	Validate   *validator.Validate
	Translator ut.Translator
	MailSvc    core.EmailService

	ActivitySvc     activity.Service
	NotificationSvc notification.Service
	UserSvc         user.Service
	OrganizationSvc organization.Service
	CustomerSvc     customer.Service
	ContractSvc     contract.Service
	StackSvc        stack.Service
	ItemSvc         item.Service
	LimitSvc        limit.Service
	MeasurementSvc  measurement.Service
	StagingSvc      staging.Service
	ReportSvc       report.Service
}

type repositories struct {
	users         user.Repository
	organizations organization.Repository
	customers     customer.Repository
	contracts     contract.Repository
	stacks        stack.Repository
	items         item.Repository
	limits        limit.Repository
	measurements  measurement.Repository
	importer      measurement.Importer
	staged        staging.Repository
	notifications notification.Repository
	activities    activity.Repository
}

// NewLogger returns a RollbarLogger printing to stdout with prefix.
func NewLogger(conf *core.Config, prefix string) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	return logger
}

// SetUpDB creates the database if needed, opens it & applies the pending migrations.
func SetUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New builds an App on db; a nil db means in-memory storage, seeded with the default items.
func New(conf *core.Config, logger core.Logger, db *sql.DB) (*App, error) {
	app := &App{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		Translator: core.NewTranslator(),
	}
	app.Validate = core.NewValidator(app.Translator)
	user.RegisterValidators(app.Validate, app.Translator)
	core.ParseEmailTemplates(appfs.FS, "assets/templates/email", conf, logger)

	if conf.Debug {
		app.MailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		app.MailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var (
		repos repositories
		txDB  core.DB // stays a nil interface for in-memory storage
	)
	if db != nil {
		txDB = db
		repos = repositories{
			users:         boiledrepos.NewUserRepository(db),
			organizations: boiledrepos.NewOrganizationRepository(db),
			customers:     boiledrepos.NewCustomerRepository(db),
			contracts:     boiledrepos.NewContractRepository(db),
			stacks:        boiledrepos.NewStackRepository(db),
			items:         boiledrepos.NewItemRepository(db),
			limits:        boiledrepos.NewLimitRepository(db),
			measurements:  boiledrepos.NewMeasurementRepository(db),
			importer:      sqlxrepos.NewMeasurementImporter(db),
			staged:        boiledrepos.NewStagingRepository(db),
			notifications: boiledrepos.NewNotificationRepository(db),
			activities:    boiledrepos.NewActivityRepository(db),
		}
	} else {
		mem := inmemdb.NewDB()
		msrRepo := inmemdb.NewMeasurementRepository(mem)
		repos = repositories{
			users:         inmemdb.NewUserRepository(mem),
			organizations: inmemdb.NewOrganizationRepository(mem),
			customers:     inmemdb.NewCustomerRepository(mem),
			contracts:     inmemdb.NewContractRepository(mem),
			stacks:        inmemdb.NewStackRepository(mem),
			items:         inmemdb.NewItemRepository(mem),
			limits:        inmemdb.NewLimitRepository(mem),
			measurements:  msrRepo,
			importer:      msrRepo,
			staged:        inmemdb.NewStagingRepository(mem),
			notifications: inmemdb.NewNotificationRepository(mem),
			activities:    inmemdb.NewActivityRepository(mem),
		}
	}

	app.ActivitySvc = activity.NewService(repos.activities, logger)
	app.NotificationSvc = notification.NewService(repos.notifications)
	app.UserSvc = user.NewService(repos.users, app.MailSvc, conf)
	app.OrganizationSvc = organization.NewService(repos.organizations, txDB, app.UserSvc, app.ActivitySvc, app.NotificationSvc, app.MailSvc)
	app.CustomerSvc = customer.NewService(repos.customers, txDB, app.UserSvc, app.NotificationSvc)
	app.ContractSvc = contract.NewService(
		repos.contracts, txDB, conf,
		app.OrganizationSvc, app.CustomerSvc, app.UserSvc, app.NotificationSvc, app.ActivitySvc, app.MailSvc,
	)
	app.StackSvc = stack.NewService(repos.stacks, txDB, app.CustomerSvc, app.UserSvc, app.NotificationSvc, app.ActivitySvc)
	app.ItemSvc = item.NewService(repos.items)
	app.LimitSvc = limit.NewService(repos.limits, txDB, app.CustomerSvc, app.ItemSvc)
	app.MeasurementSvc = measurement.NewService(
		repos.measurements, repos.importer, txDB, conf,
		app.CustomerSvc, app.StackSvc, app.ItemSvc, app.LimitSvc, app.ActivitySvc,
	)
	app.StagingSvc = staging.NewService(repos.staged, app.CustomerSvc, app.StackSvc, app.ItemSvc, app.MeasurementSvc, app.ActivitySvc)
	app.ReportSvc = report.NewService(app.MeasurementSvc, app.ItemSvc, app.CustomerSvc, app.OrganizationSvc, app.UserSvc, app.ActivitySvc, app.MailSvc)

	if db == nil {
		if _, err := app.ItemSvc.SeedDefaults(context.Background()); err != nil {
			return nil, errors.Wrap(err, "seeding default items")
		}
	}
	return app, nil
}

// Server returns the HTTP API of app.
func (app *App) Server() *echoapi.Server {
	return echoapi.NewServer(echoapi.Deps{
		Conf:            app.Conf,
		Logger:          app.Logger,
		Validate:        app.Validate,
		Translator:      app.Translator,
		UserSvc:         app.UserSvc,
		OrganizationSvc: app.OrganizationSvc,
		CustomerSvc:     app.CustomerSvc,
		ContractSvc:     app.ContractSvc,
		StackSvc:        app.StackSvc,
		ItemSvc:         app.ItemSvc,
		LimitSvc:        app.LimitSvc,
		MeasurementSvc:  app.MeasurementSvc,
		StagingSvc:      app.StagingSvc,
		ReportSvc:       app.ReportSvc,
		NotificationSvc: app.NotificationSvc,
		ActivitySvc:     app.ActivitySvc,
	})
}

// Close releases the database, if any.
func (app *App) Close() error {
	if app.DB == nil {
		return nil
	}
	return app.DB.Close()
}
