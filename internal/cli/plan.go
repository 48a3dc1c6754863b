package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/engine"
)

// newPlanCommand creates the "plan" subcommand: a dry-run showing which
// stages would execute for the given parameters.
func newPlanCommand(opts *Options) *cobra.Command {
	var wf workflowFlags
	var output string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which stages would run for the given parameters, without executing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, tmplCtx, err := loadWorkflow(opts, wf)
			if err != nil {
				return err
			}

			eng := engine.New(cfg, tmplCtx, nil, nil, nil, logger)
			planned, err := eng.Plan()
			if err != nil {
				return err
			}

			switch strings.ToLower(output) {
			case "json":
				payload, err := json.MarshalIndent(planned, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "project: %s\n", cfg.Project)
				for name, value := range tmplCtx.Params {
					fmt.Fprintf(cmd.OutOrStdout(), "param: %s=%s\n", name, value)
				}
				for _, stage := range planned {
					mark := "run "
					if !stage.WillRun {
						mark = "skip"
					}
					line := fmt.Sprintf("  [%s] %s", mark, stage.Name)
					if stage.Reason != "" {
						line += "  (" + stage.Reason + ")"
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&wf.params, "param", nil, "Workflow parameter in name=value form (repeatable)")
	cmd.Flags().StringVar(&wf.setVars, "set", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().StringVar(&wf.varFile, "var-file", "", "Path to a YAML file with additional variables")
	cmd.Flags().StringVar(&output, "output", "plain", "Output format: plain|json")

	return cmd
}
