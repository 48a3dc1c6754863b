package cli

import (
	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/ghoutput"
)

// newRunCommand creates the "run" subcommand that executes the pipeline once.
func newRunCommand(opts *Options) *cobra.Command {
	var wf workflowFlags
	var noStore bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the deployment pipeline once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, tmplCtx, err := loadWorkflow(opts, wf)
			if err != nil {
				return err
			}

			dbPath := opts.DBPath
			if noStore {
				dbPath = ""
			}

			eng, runs, err := buildEngine(cfg, tmplCtx, dbPath, logger)
			if err != nil {
				return err
			}
			if runs != nil {
				defer func() { _ = runs.Close() }()
			}

			run, runErr := eng.Run(cmd.Context(), engine.RunOptions{Trigger: "manual"})
			if run != nil {
				if err := ghoutput.Write(ghoutput.FromRun(run)); err != nil {
					logger.Warn("write github outputs failed", "error", err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringArrayVar(&wf.params, "param", nil, "Workflow parameter in name=value form (repeatable)")
	cmd.Flags().StringVar(&wf.setVars, "set", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().StringVar(&wf.varFile, "var-file", "", "Path to a YAML file with additional variables")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Skip persisting the run to the run store")

	return cmd
}
