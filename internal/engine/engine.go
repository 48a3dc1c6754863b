// Package engine contains the high-level orchestration logic for pipeline runs.
// It binds credentials into stage environments, resolves inventory once per
// run, drives the stage executor in declared order and persists every state
// transition to the run store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/credential"
	"github.com/conveyorci/conveyor/internal/env"
	"github.com/conveyorci/conveyor/internal/executor"
	"github.com/conveyorci/conveyor/internal/inventory"
	"github.com/conveyorci/conveyor/internal/logging"
	"github.com/conveyorci/conveyor/internal/store"
)

// inventoryFileVar exposes the rendered inventory path to stage commands.
const inventoryFileVar = "CONVEYOR_INVENTORY_FILE"

// Engine executes pipeline runs for one loaded workflow.
type Engine struct {
	cfg     *config.WorkflowConfig
	tmplCtx config.TemplateContext
	creds   *credential.Store
	source  inventory.Source
	runs    *store.Store
	logger  *slog.Logger

	// inv caches the inventory resolved for the current run; runs execute
	// sequentially, so the engine never serves two runs at once.
	inv *inventory.Inventory
}

// New constructs an Engine. The inventory source may be nil when the workflow
// declares no inventory; the run store may be nil for unpersisted runs
// (plan/dry-run paths never need one).
func New(cfg *config.WorkflowConfig, tmplCtx config.TemplateContext, creds *credential.Store,
	source inventory.Source, runs *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, tmplCtx: tmplCtx, creds: creds, source: source, runs: runs, logger: logger}
}

// RunOptions carries run provenance.
type RunOptions struct {
	// Trigger records what started the run: "manual" or "webhook".
	Trigger string
	// Ref is the git ref from a webhook push, if any.
	Ref string
	// Commit is the head commit SHA from a webhook push, if any.
	Commit string
	// Sender is the webhook sender login, if any.
	Sender string
}

// PlannedStage describes what a run would do with one stage.
type PlannedStage struct {
	Name    string `json:"name"`
	WillRun bool   `json:"willRun"`
	Reason  string `json:"reason,omitempty"`
}

// Plan evaluates every stage condition against the resolved parameters
// without executing anything.
func (e *Engine) Plan() ([]PlannedStage, error) {
	out := make([]PlannedStage, 0, len(e.cfg.Stages))
	for _, stage := range e.cfg.Stages {
		ok, err := config.EvaluateWhen(stage.When, e.tmplCtx)
		if err != nil {
			return nil, fmt.Errorf("stage %q: evaluate when: %w", stage.Name, err)
		}
		planned := PlannedStage{Name: stage.Name, WillRun: ok}
		if !ok {
			planned.Reason = fmt.Sprintf("condition %q is false", strings.TrimSpace(*stage.When))
		}
		out = append(out, planned)
	}
	return out, nil
}

// Run executes the pipeline once and returns the final run record. The
// record's state is persisted before each stage executes, so a crash leaves
// the store reflecting the last completed transition.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*store.RunRecord, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	run := &store.RunRecord{
		ID:         uuid.New().String(),
		Project:    e.cfg.Project,
		Trigger:    trigger,
		Parameters: e.tmplCtx.Params,
		State:      store.RunPending,
		Ref:        opts.Ref,
		Commit:     opts.Commit,
		Sender:     opts.Sender,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.persistCreate(run); err != nil {
		return nil, err
	}

	e.logger.Info("run created", "run", run.ID, "project", run.Project, "trigger", trigger, "params", run.Parameters)

	now := time.Now().UTC()
	run.StartedAt = &now
	run.State = store.RunRunning
	if err := e.persistUpdate(run); err != nil {
		return nil, err
	}

	finalErr := e.execute(ctx, run)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err := e.persistUpdate(run); err != nil {
		return run, err
	}

	if finalErr != nil {
		e.logger.Error("run finished", "run", run.ID, "state", run.State)
		return run, finalErr
	}
	e.logger.Info("run finished", "run", run.ID, "state", run.State, "duration", finished.Sub(*run.StartedAt))
	return run, nil
}

func (e *Engine) execute(ctx context.Context, run *store.RunRecord) error {
	baseEnv, invCleanup, err := e.prepareEnvironment(ctx, run)
	if err != nil {
		run.State = store.RunFailed
		run.Error = err.Error()
		return err
	}
	defer invCleanup()

	if err := e.runHooks(ctx, run, "pre-run", e.cfg.Hooks.PreRun, baseEnv); err != nil {
		run.State = store.RunFailed
		run.Error = err.Error()
		return err
	}

	runErr := e.runStages(ctx, run, baseEnv)

	// Post-run hooks always execute; their failures are logged, not fatal.
	if hookErr := e.runHooks(ctx, run, "post-run", e.cfg.Hooks.PostRun, baseEnv); hookErr != nil {
		e.logger.Warn("post-run hook failed", "run", run.ID, "error", hookErr)
	}

	if runErr != nil {
		return runErr
	}
	run.State = store.RunSucceeded
	return nil
}

func (e *Engine) runStages(ctx context.Context, run *store.RunRecord, baseEnv env.Vars) error {
	for position, stage := range e.cfg.Stages {
		ok, err := config.EvaluateWhen(stage.When, e.tmplCtx)
		if err != nil {
			run.State = store.RunFailed
			run.Error = err.Error()
			return fmt.Errorf("stage %q: evaluate when: %w", stage.Name, err)
		}
		if !ok {
			e.logger.Info("stage skipped", "run", run.ID, "stage", stage.Name)
			skipped := executor.Result{Stage: stage.Name, Status: executor.StatusSkipped, StartedAt: time.Now().UTC()}
			if err := e.persistStage(run.ID, position, skipped); err != nil {
				return err
			}
			continue
		}

		result, err := e.runStage(ctx, run, position, stage, baseEnv)
		if perr := e.persistStage(run.ID, position, result); perr != nil {
			return perr
		}
		e.appendLogs(run.ID, result)

		if err != nil {
			if result.Status == executor.StatusTimedOut {
				run.State = store.RunTimedOut
			} else {
				run.State = store.RunFailed
			}
			run.Error = result.Error
			return err
		}
	}
	return nil
}

// runStage prepares one stage's environment (group vars, credentials) and
// executes it. Credential material is cleaned up before returning.
func (e *Engine) runStage(ctx context.Context, run *store.RunRecord, position int,
	stage config.StageSpec, baseEnv env.Vars) (executor.Result, error) {

	stageEnv := env.Merge(baseEnv, env.Vars(stage.Env))

	if stage.TargetGroup != "" {
		groupVars, err := e.groupVars(ctx, stage.TargetGroup)
		if err != nil {
			return failedResult(stage.Name, err), err
		}
		stageEnv = env.Merge(stageEnv, groupVars)
	}

	var secrets []logging.Secret
	if len(stage.Credentials) > 0 {
		if e.creds == nil {
			err := fmt.Errorf("stage %q requires credentials but no backends are configured", stage.Name)
			return failedResult(stage.Name, err), err
		}
		injection, err := e.creds.Inject(ctx, stage.Credentials)
		if err != nil {
			return failedResult(stage.Name, err), err
		}
		defer injection.Cleanup()
		stageEnv = env.Merge(stageEnv, injection.Env)
		secrets = injection.Secrets
	}

	timeout := time.Duration(0)
	if stage.Timeout != "" {
		timeout, _ = time.ParseDuration(stage.Timeout)
	}

	exec := executor.New(e.logger, logging.NewRedactor(secrets))
	return exec.Run(ctx, executor.Spec{
		Stage:   stage.Name,
		Command: stage.Run,
		Workdir: e.workdir(stage),
		Env:     stageEnv,
		Timeout: timeout,
	})
}

// prepareEnvironment builds the run-wide base environment and, when an
// inventory is configured, resolves it once and renders it to a temp file.
func (e *Engine) prepareEnvironment(ctx context.Context, run *store.RunRecord) (env.Vars, func(), error) {
	base := env.Merge(e.tmplCtx.EnvMap, env.Vars{
		"CONVEYOR_RUN_ID":  run.ID,
		"CONVEYOR_PROJECT": e.cfg.Project,
	})
	for name, value := range e.tmplCtx.Params {
		base["CONVEYOR_PARAM_"+credential.EnvKey(name)] = value
	}
	if run.Ref != "" {
		base["CONVEYOR_REF"] = run.Ref
	}
	if run.Commit != "" {
		base["CONVEYOR_COMMIT"] = run.Commit
	}

	cleanup := func() {}
	if e.source != nil {
		inv, err := e.resolveInventory(ctx)
		if err != nil {
			return nil, cleanup, err
		}
		path, err := writeInventoryFile(inv)
		if err != nil {
			return nil, cleanup, err
		}
		base[inventoryFileVar] = path
		cleanup = func() { _ = os.Remove(path) }
		e.logger.Info("inventory resolved", "run", run.ID, "hosts", len(inv.Hosts), "groups", len(inv.Groups))
	}

	return base, cleanup, nil
}

func (e *Engine) resolveInventory(ctx context.Context) (*inventory.Inventory, error) {
	hosts, err := e.source.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve inventory: %w", err)
	}
	inv := inventory.Build(hosts)
	e.inv = inv
	return inv, nil
}

// groupVars returns the configured variables for a stage's target group,
// validating the group against the resolved inventory when one exists.
func (e *Engine) groupVars(ctx context.Context, group string) (env.Vars, error) {
	if e.inv != nil {
		if _, err := e.inv.Group(group); err != nil {
			return nil, err
		}
	}
	if e.cfg.Inventory == nil {
		return nil, nil
	}
	vars, ok := e.cfg.Inventory.GroupVars[group]
	if !ok {
		return nil, nil
	}
	return env.Vars(vars), nil
}

// runHooks executes hook commands sequentially in the base environment.
func (e *Engine) runHooks(ctx context.Context, run *store.RunRecord, phase string, commands []string, baseEnv env.Vars) error {
	for i, command := range commands {
		exec := executor.New(e.logger, logging.NewRedactor(nil))
		name := fmt.Sprintf("%s[%d]", phase, i)
		if _, err := exec.Run(ctx, executor.Spec{
			Stage:   name,
			Command: command,
			Workdir: e.tmplCtx.ProjectRoot,
			Env:     baseEnv,
		}); err != nil {
			return fmt.Errorf("%s hook: %w", phase, err)
		}
	}
	return nil
}

func (e *Engine) workdir(stage config.StageSpec) string {
	if stage.Workdir != "" {
		return stage.Workdir
	}
	return e.tmplCtx.ProjectRoot
}

func (e *Engine) persistCreate(run *store.RunRecord) error {
	if e.runs == nil {
		return nil
	}
	return e.runs.CreateRun(run)
}

func (e *Engine) persistUpdate(run *store.RunRecord) error {
	if e.runs == nil {
		return nil
	}
	return e.runs.UpdateRun(run)
}

func (e *Engine) persistStage(runID string, position int, result executor.Result) error {
	if e.runs == nil {
		return nil
	}
	return e.runs.SaveStageResult(runID, position, result)
}

func (e *Engine) appendLogs(runID string, result executor.Result) {
	if e.runs == nil || result.Output == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(result.Output, "\n"), "\n") {
		if line == "" {
			continue
		}
		if err := e.runs.AppendLog(runID, store.LogEntry{Stage: result.Stage, Line: line}); err != nil {
			e.logger.Warn("append run log failed", "run", runID, "error", err)
			return
		}
	}
}

func failedResult(stage string, err error) executor.Result {
	return executor.Result{
		Stage:     stage,
		Status:    executor.StatusFailed,
		ExitCode:  -1,
		Error:     err.Error(),
		StartedAt: time.Now().UTC(),
	}
}

func writeInventoryFile(inv *inventory.Inventory) (string, error) {
	f, err := os.CreateTemp("", "conveyor-inventory-*.ini")
	if err != nil {
		return "", fmt.Errorf("create inventory file: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(inv.Render()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write inventory file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close inventory file: %w", err)
	}
	return path, nil
}
