package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

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
)

// Deps holds everything the API needs to serve requests.
type Deps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

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
	NotificationSvc notification.Service
	ActivitySvc     activity.Service
}

type Server struct {
	deps     Deps
	app      *echo.Echo
	auth     *authenticator
	metrics  *metrics
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		metrics:  newMetrics(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(s.metrics.middleware())
	s.app.Use(middleware.CORS())

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/metrics", echo.WrapHandler(s.metrics.handler()))

	v1 := s.app.Group("/v1")
	authed := []echo.MiddlewareFunc{middleware.JWTWithConfig(s.auth.jwtConfig), s.auth.userMiddleware()}

	registerUserAPI(v1, authed, s.deps, s.auth)
	registerOrganizationAPI(v1, authed, s.deps)
	registerCustomerAPI(v1, authed, s.deps)
	registerContractAPI(v1, authed, s.deps)
	registerStackAPI(v1, authed, s.deps)
	registerItemAPI(v1, authed, s.deps)
	registerLimitAPI(v1, authed, s.deps)
	registerMeasurementAPI(v1, authed, s.deps)
	registerStagingAPI(v1, authed, s.deps)
	registerStackRequestAPI(v1, authed, s.deps)
	registerReportAPI(v1, authed, s.deps)
	registerNotificationAPI(v1, authed, s.deps)
}

// Start listens on the configured address; failures are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- errors.Wrap(err, "starting server")
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the main goroutine to stop the Server gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

// GenerateToken issues a fresh JWT for usr.
func (s *Server) GenerateToken(usr user.User) (string, error) {
	return s.auth.generateToken(s.auth.userClaims(usr))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
