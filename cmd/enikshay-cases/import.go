package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enikshay/casetools/internal/config"
	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/episodeupdate"
	"github.com/enikshay/casetools/internal/platform/db"
)

// importCmd copies a case fixture (and optionally schedules) into Postgres, for
// seeding test and training databases.
func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <fixture>",
		Short: "Load a JSON case fixture into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedulesPath, _ := cmd.Flags().GetString("schedules")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open fixture: %w", err)
			}
			defer f.Close()
			cases, err := cg.DecodeFixture(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := cg.NewPGStore(pool).Insert(ctx, cases...); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d case(s).\n", len(cases))

			if schedulesPath == "" {
				return nil
			}
			domain, _ := cmd.Flags().GetString("domain")
			if domain == "" {
				domain = cfg.DefaultDomain
			}
			sf, err := os.Open(schedulesPath)
			if err != nil {
				return fmt.Errorf("open schedules: %w", err)
			}
			defer sf.Close()
			schedules, err := episodeupdate.DecodeSchedules(sf)
			if err != nil {
				return fmt.Errorf("%s: %w", schedulesPath, err)
			}
			if err := episodeupdate.NewPGSchedules(pool).Put(ctx, domain, schedules...); err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d schedule(s) into %s.\n", len(schedules), domain)
			return nil
		},
	}
	cmd.Flags().String("schedules", "", "JSON file of adherence schedules to import")
	return cmd
}
