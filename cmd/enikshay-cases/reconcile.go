package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enikshay/casetools/internal/domain/reconcile"
	"github.com/enikshay/casetools/internal/platform/reporting"
	"github.com/enikshay/casetools/internal/platform/telemetry"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "reconcile <command>",
		Short:     "Close duplicate cases under each person",
		Long:      "Runs one reconciliation command: " + strings.Join(reconcile.Commands(), ", ") + ". Without --commit nothing is written.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: reconcile.Commands(),
		RunE: func(cmd *cobra.Command, args []string) error {
			personIDs, _ := cmd.Flags().GetStringSlice("person-id")
			commit, _ := cmd.Flags().GetBool("commit")
			reportPath, _ := cmd.Flags().GetString("report")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			command := args[0]
			metrics := telemetry.New(false)
			runner := reconcile.NewRunner(e.cases, e.logger).Observe(observeReconcile(metrics))
			result, runErr := runner.Run(ctx, command, reconcile.Options{
				Domain:    e.domain,
				PersonIDs: personIDs,
				Commit:    commit,
				BatchSize: e.cfg.BulkUpdateBatchSize,
			})
			if result == nil {
				return runErr
			}
			e.pushMetrics(metrics, "reconcile_"+strings.ReplaceAll(command, "-", "_"))

			// an aborted run still gets the rows collected so far
			path, err := writeReport(reportPath, e.cfg.ReportDir, "reconcile-"+command, reconcile.ReportHeader, result.Rows)
			if err != nil {
				return err
			}
			e.archiveReport(ctx, path)
			mode := "dry run"
			if result.Committed {
				mode = "committed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d persons, %d groups, %d closed, %d errors; report %s\n",
				command, mode, result.Persons, result.Groups, result.Closed, result.Errors, path)
			return runErr
		},
	}
	cmd.Flags().StringSlice("person-id", nil, "Only reconcile these persons (repeatable)")
	cmd.Flags().Bool("commit", false, "Apply the case updates")
	cmd.Flags().String("report", "", "Report path (defaults to a timestamped file in REPORT_DIR)")
	return cmd
}

// writeReport writes rows to path, or to a new file in dir when path is empty,
// and returns the path written.
func writeReport[T reporting.Recorder](path, dir, prefix string, header []string, rows []T) (string, error) {
	var (
		w   *reporting.Writer
		err error
	)
	if path != "" {
		w, err = reporting.CreateFile(path, header)
	} else {
		w, err = reporting.Create(dir, prefix, header)
	}
	if err != nil {
		return "", err
	}
	if err := reporting.WriteAll(w, rows); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return w.Path(), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
