package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/store"
)

// newRunsCommand creates the "runs" group command for querying the run store.
func newRunsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query past pipeline runs",
	}

	cmd.AddCommand(
		newRunsListCommand(opts),
		newRunsShowCommand(opts),
	)

	return cmd
}

func newRunsListCommand(opts *Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := store.Open(opts.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = runs.Close() }()

			records, err := runs.ListRuns(limit)
			if err != nil {
				return err
			}

			for _, run := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %-8s  %s  %s\n",
					run.ID, run.State, run.Trigger, run.CreatedAt.Format(time.RFC3339), paramSummary(run.Parameters))
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}

func newRunsShowCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := store.Open(opts.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = runs.Close() }()

			run, err := runs.GetRun(args[0])
			if err != nil {
				return err
			}
			stages, err := runs.ListStageResults(args[0])
			if err != nil {
				return err
			}

			payload, err := json.MarshalIndent(map[string]any{"run": run, "stages": stages}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}

	return cmd
}

func paramSummary(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+params[name])
	}
	return strings.Join(pairs, " ")
}
