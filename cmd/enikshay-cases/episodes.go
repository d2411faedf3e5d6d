package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enikshay/casetools/internal/domain/episodeupdate"
	"github.com/enikshay/casetools/internal/platform/telemetry"
)

func updateEpisodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-episodes",
		Short: "Recompute derived adherence, voucher and test properties of open episodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			commit, _ := cmd.Flags().GetBool("commit")
			schedulesPath, _ := cmd.Flags().GetString("schedules")
			reportPath, _ := cmd.Flags().GetString("report")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if schedulesPath != "" {
				if err := e.loadSchedules(ctx, schedulesPath); err != nil {
					return err
				}
			}

			updater := episodeupdate.NewUpdater(e.cases, e.schedules, episodeupdate.Config{
				BatchSize:       e.cfg.BulkUpdateBatchSize,
				Workers:         e.cfg.UpdaterWorkers,
				PartitionSize:   e.cfg.UpdaterPartitionSize,
				FDCThreshold:    e.cfg.FDCPrescriptionDays,
				NonFDCThreshold: e.cfg.NonFDCPrescriptionDays,
				Commit:          commit,
			}, e.logger)
			summary, err := updater.Run(ctx, e.domain)
			if err != nil {
				return err
			}
			metrics := telemetry.New(false)
			metrics.EpisodeUpdateRun(summary.Updated, summary.NotUpdated, len(summary.Errors))
			e.pushMetrics(metrics, "update_episodes")

			path, err := writeReport(reportPath, e.cfg.ReportDir, "update-episodes", episodeupdate.ErrorHeader, summary.Errors)
			if err != nil {
				return err
			}
			e.archiveReport(ctx, path)
			mode := "dry run"
			if commit {
				mode = "committed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "update-episodes (%s): %d updated, %d unchanged, %d errors in %s; report %s\n",
				mode, summary.Updated, summary.NotUpdated, len(summary.Errors), summary.Duration, path)
			return nil
		},
	}
	cmd.Flags().Bool("commit", false, "Apply the case updates")
	cmd.Flags().String("schedules", "", "JSON file of adherence schedules to load before the run")
	cmd.Flags().String("report", "", "Error report path (defaults to a timestamped file in REPORT_DIR)")
	return cmd
}
