package main

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/measurement"
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command: up, up-by-one, up-to, down, down-to, redo, reset, status, version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.app.DB == nil {
				return errNoDatabase
			}
			return migrateFunc(cli.app.DB, args[0], args[1:]...)
		},
	}
}

func (cli *commandLine) checkContractsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "check-contracts",
		Short: "Notify organizations of expiring contracts & expire the past due ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := contract.NowFunc()
			if date = strings.TrimSpace(date); date != "" {
				var err error
				if now, err = time.ParseInLocation("2006-01-02", date, measurement.Location); err != nil {
					return errors.Wrap(err, "parsing --date")
				}
			}
			res, err := cli.app.ContractSvc.CheckExpiring(cmd.Context(), now)
			if err != nil {
				return err
			}
			cli.printf("%s\n", res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "check as of this day (YYYY-MM-DD), today by default")
	return cmd
}

func (cli *commandLine) seedItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-items",
		Short: "Create the missing default measurement items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := cli.app.ItemSvc.SeedDefaults(cmd.Context())
			if err != nil {
				return err
			}
			cli.printf("%d items created\n", n)
			return nil
		},
	}
}

func (cli *commandLine) importMeasurementsCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "import-measurements FILE",
		Short: "Import measurements from a CSV file (customer,stack,itemKey,value,measuredAt)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "opening csv file")
			}
			defer f.Close()

			actor := core.SystemActor
			actor.OrganizationID = strings.TrimSpace(orgID)
			res, err := cli.app.MeasurementSvc.ImportCSV(cmd.Context(), actor, f)
			if err != nil {
				return err
			}
			cli.printf("%s\n", res.Message)
			for _, e := range res.Errors {
				cli.printf("  %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "organization", "", "organization the measurements are recorded for")
	return cmd
}
