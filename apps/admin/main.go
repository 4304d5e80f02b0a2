package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tigrofin/pmms/apps/shared"
	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := shared.NewLogger(conf, "ADMIN")

	// migrations are left to the migrate command
	db, err := openDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	app, err := shared.New(conf, logger, db)
	if err != nil {
		logger.Fatal(fmt.Sprintf("initializing application: %v", err), err)
	}

	cli := commandLine{app: app, out: os.Stdout}
	err = cli.run(os.Args[1:])
	_ = app.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func openDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
