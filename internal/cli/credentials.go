package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCredentialsCommand creates the "credentials" group command. Only
// metadata is ever printed; secret values stay inside the store.
func newCredentialsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect configured credential backends",
	}

	cmd.AddCommand(newCredentialsListCommand(opts))

	return cmd
}

func newCredentialsListCommand(opts *Options) *cobra.Command {
	var wf workflowFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credential ids and kinds, never values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadWorkflow(opts, wf)
			if err != nil {
				return err
			}

			logger := LoggerFromContext(cmd.Context())
			creds, err := buildCredentialStore(cfg, logger)
			if err != nil {
				return err
			}
			if creds == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no credential backends configured")
				return nil
			}

			entries, err := creds.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s  %-16s  %s\n", entry.ID, entry.Kind, entry.Backend)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no credentials found")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&wf.params, "param", nil, "Workflow parameter as name=value, repeatable")
	cmd.Flags().StringVar(&wf.setVars, "set", "", "Inline template variables as k=v,k2=v2")
	cmd.Flags().StringVar(&wf.varFile, "var-file", "", "YAML file with template variables")

	return cmd
}
