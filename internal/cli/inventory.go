package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/inventory"
)

// newInventoryCommand resolves the workflow inventory and prints it.
func newInventoryCommand(opts *Options) *cobra.Command {
	var (
		wf     workflowFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Resolve and print the workflow inventory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, tmplCtx, err := loadWorkflow(opts, wf)
			if err != nil {
				return err
			}
			if cfg.Inventory == nil {
				return fmt.Errorf("workflow %q declares no inventory", cfg.Project)
			}

			source, err := buildInventorySource(cfg, tmplCtx)
			if err != nil {
				return err
			}

			hosts, err := source.Resolve(cmd.Context())
			if err != nil {
				return fmt.Errorf("resolve inventory: %w", err)
			}
			inv := inventory.Build(hosts)

			switch format {
			case "ini":
				fmt.Fprint(cmd.OutOrStdout(), inv.Render())
			case "json":
				payload, err := json.MarshalIndent(hosts, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			default:
				return fmt.Errorf("unknown --format %q, expected ini or json", format)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&wf.params, "param", nil, "Workflow parameter as name=value, repeatable")
	cmd.Flags().StringVar(&wf.setVars, "set", "", "Inline template variables as k=v,k2=v2")
	cmd.Flags().StringVar(&wf.varFile, "var-file", "", "YAML file with template variables")
	cmd.Flags().StringVar(&format, "format", "ini", "Output format: ini or json")

	return cmd
}
