package main

import (
	"context"
	"database/sql"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/tigrofin/pmms/apps/shared"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
)

// contractsCheckInterval is how often contract expirations are checked while the API runs.
const contractsCheckInterval = 24 * time.Hour

func main() {
	inmem := flag.Bool("inmem", false, "use in-memory storage instead of PostgreSQL (data is lost on exit)")
	flag.Parse()

	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	logger := shared.NewLogger(conf, "API")
	dbLogger := shared.NewLogger(conf, "DB")

	var db *sql.DB
	if !*inmem {
		var err error
		if db, err = shared.SetUpDB(conf); err != nil {
			dbLogger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
	}

	app, err := shared.New(conf, logger, db)
	if err != nil {
		logger.Fatal(fmt.Sprintf("initializing application: %v", err), err)
	}
	defer func() {
		if err = app.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Contracts Watcher

	watcherCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()
	go watchContracts(watcherCtx, app.ContractSvc, app.Logger)

	// =========================================================================
	// Start API Service

	server := app.Server()

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopWatcher()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// watchContracts checks contract expirations at start up then every contractsCheckInterval until ctx is done.
func watchContracts(ctx context.Context, svc contract.Service, logger core.Logger) {
	check := func() {
		res, err := svc.CheckExpiring(ctx, contract.NowFunc())
		if err != nil {
			logger.Error(fmt.Sprintf("checking expiring contracts: %v", err), err)
			return
		}
		logger.Info(res.Message)
	}

	check()
	ticker := time.NewTicker(contractsCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
