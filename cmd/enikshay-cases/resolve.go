package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Look up related cases in the hierarchy",
	}

	episodeCmd := &cobra.Command{
		Use:   "episode <person-id>",
		Short: "Print the open confirmed_tb episode of a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, closeFn, err := openResolver(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			episode, err := res.OpenEpisodeFromPerson(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), episode)
		},
	}

	personCmd := &cobra.Command{
		Use:   "person <case-id>",
		Short: "Print the person a case belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, closeFn, err := openResolver(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			person, err := res.PersonCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), person)
		},
	}

	adherenceCmd := &cobra.Command{
		Use:   "adherence <person-id>",
		Short: "Print the adherence cases of a person between two dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := timeFlag(cmd, "start")
			if err != nil {
				return err
			}
			end, err := timeFlag(cmd, "end")
			if err != nil {
				return err
			}

			res, closeFn, err := openResolver(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			cases, err := res.AdherenceBetweenDates(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			hierarchy.SortByAdherenceDate(cases)
			return printJSON(cmd.OutOrStdout(), cases)
		},
	}
	adherenceCmd.Flags().String("start", "", "First adherence date, inclusive")
	adherenceCmd.Flags().String("end", "", "Last adherence date, inclusive")
	_ = adherenceCmd.MarkFlagRequired("start")
	_ = adherenceCmd.MarkFlagRequired("end")

	cmd.AddCommand(episodeCmd, personCmd, adherenceCmd)
	return cmd
}

func openResolver(cmd *cobra.Command) (*hierarchy.Resolver, func(), error) {
	e, err := setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	return hierarchy.NewResolver(e.cases, e.domain), e.Close, nil
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	t, err := cg.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
