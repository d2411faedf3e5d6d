package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "enikshay-cases",
		Short:        "Reconcile and update enikshay case graphs",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("fixture", "", "Read cases from a JSON fixture instead of DATABASE_URL")
	root.PersistentFlags().String("domain", "", "Project space to operate on (defaults to DEFAULT_DOMAIN)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(updateEpisodesCmd())
	root.AddCommand(resolveCmd())
	return root
}
