package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/credential"
	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/env"
	"github.com/conveyorci/conveyor/internal/inventory"
	"github.com/conveyorci/conveyor/internal/store"
)

// workflowFlags carries the per-command flags shared by run and plan.
type workflowFlags struct {
	params  []string
	setVars string
	varFile string
}

// parseParamFlags converts repeated --param k=v flags into a map.
func parseParamFlags(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, flag := range flags {
		kv := strings.SplitN(flag, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("invalid --param %q, expected name=value", flag)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// loadWorkflow loads conveyor.yaml with the given parameter and var overrides.
func loadWorkflow(opts *Options, wf workflowFlags) (*config.WorkflowConfig, config.TemplateContext, error) {
	params, err := parseParamFlags(wf.params)
	if err != nil {
		return nil, config.TemplateContext{}, err
	}

	userVars, err := env.ParseInlineVars(wf.setVars)
	if err != nil {
		return nil, config.TemplateContext{}, err
	}

	var varFiles []string
	if wf.varFile != "" {
		varFiles = append(varFiles, wf.varFile)
	}

	return config.LoadWorkflow(opts.ConfigPath, config.LoadOptions{
		Params:   params,
		UserVars: userVars,
		VarFiles: varFiles,
	})
}

// buildCredentialStore constructs the credential store from the workflow
// declarations; a workflow without backends yields nil.
func buildCredentialStore(cfg *config.WorkflowConfig, logger *slog.Logger) (*credential.Store, error) {
	if len(cfg.Credentials.Backends) == 0 {
		return nil, nil
	}
	return credential.NewRegistry().Build(cfg.Credentials, logger)
}

// buildInventorySource constructs the inventory source, or nil when the
// workflow declares no inventory.
func buildInventorySource(cfg *config.WorkflowConfig, tmplCtx config.TemplateContext) (inventory.Source, error) {
	if cfg.Inventory == nil {
		return nil, nil
	}
	return inventory.NewSource(cfg.Inventory, tmplCtx.ProjectRoot)
}

// buildEngine wires the engine from a loaded workflow. The run store is
// omitted when dbPath is empty.
func buildEngine(cfg *config.WorkflowConfig, tmplCtx config.TemplateContext, dbPath string,
	logger *slog.Logger) (*engine.Engine, *store.Store, error) {

	creds, err := buildCredentialStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	source, err := buildInventorySource(cfg, tmplCtx)
	if err != nil {
		return nil, nil, err
	}

	var runs *store.Store
	if dbPath != "" {
		runs, err = store.Open(dbPath)
		if err != nil {
			return nil, nil, err
		}
	}

	return engine.New(cfg, tmplCtx, creds, source, runs, logger), runs, nil
}
