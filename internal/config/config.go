// Package config contains the loader and strongly typed model for conveyor.yaml.
package config

import (
	"time"

	"github.com/conveyorci/conveyor/internal/env"
)

// WorkflowConfig represents the high-level description of a deployment workflow.
// It mirrors the structure of conveyor.yaml after template rendering.
type WorkflowConfig struct {
	// Project is the short project name used in run metadata and defaults.
	Project string `yaml:"project"`
	// EnvFiles lists .env files to load before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Params declares the workflow parameters, keyed by name.
	Params map[string]ParamSpec `yaml:"params,omitempty"`
	// Credentials configures credential backends and defaults.
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`
	// Inventory configures how deployment hosts are resolved.
	Inventory *InventoryConfig `yaml:"inventory,omitempty"`
	// Trigger configures the webhook trigger listener.
	Trigger *TriggerConfig `yaml:"trigger,omitempty"`
	// Hooks defines commands run around the whole pipeline.
	Hooks HookSet `yaml:"hooks,omitempty"`
	// Stages lists the pipeline stages in execution order.
	Stages []StageSpec `yaml:"stages"`
}

// ParamSpec declares a single workflow parameter.
type ParamSpec struct {
	// Type is the parameter type: "choice" or "string".
	Type string `yaml:"type,omitempty"`
	// Choices lists the allowed values for choice parameters.
	Choices []string `yaml:"choices,omitempty"`
	// Default is the value used when the parameter is not supplied.
	Default string `yaml:"default,omitempty"`
	// Description is shown in CLI help and plan output.
	Description string `yaml:"description,omitempty"`
}

// CredentialsConfig declares the credential backends consulted in order.
type CredentialsConfig struct {
	// Backends lists backend declarations; lookup order follows declaration order.
	Backends []CredentialBackend `yaml:"backends,omitempty"`
}

// CredentialBackend declares one credential backend instance.
type CredentialBackend struct {
	// Name identifies the backend instance in logs and errors.
	Name string `yaml:"name"`
	// Type selects the backend implementation: "file", "aws.secretsmanager" or "keyring".
	Type string `yaml:"type"`
	// Path is the credentials file path for the file backend.
	Path string `yaml:"path,omitempty"`
	// Region is the AWS region for the aws.secretsmanager backend.
	Region string `yaml:"region,omitempty"`
	// Prefix is prepended to credential ids when querying the backend.
	Prefix string `yaml:"prefix,omitempty"`
	// Service is the keyring service name for the keyring backend.
	Service string `yaml:"service,omitempty"`
}

// InventoryConfig configures external host resolution.
type InventoryConfig struct {
	// Source selects the inventory backend: "ec2" or "static".
	Source string `yaml:"source"`
	// Regions lists AWS regions queried by the ec2 source.
	Regions []string `yaml:"regions,omitempty"`
	// Filters maps tag keys to required values for the ec2 source.
	Filters map[string]string `yaml:"filters,omitempty"`
	// AddressFrom selects the composed host address: "public" or "private".
	AddressFrom string `yaml:"addressFrom,omitempty"`
	// StaticFile is the YAML host list for the static source.
	StaticFile string `yaml:"staticFile,omitempty"`
	// GroupVars maps generated group names to variables merged into stage
	// environments when a stage targets that group.
	GroupVars map[string]map[string]string `yaml:"groupVars,omitempty"`
}

// TriggerConfig configures the webhook trigger listener.
type TriggerConfig struct {
	// Path is the webhook endpoint path (defaults to /github-webhook/).
	Path string `yaml:"path,omitempty"`
	// SecretCredential names the credential holding the webhook HMAC secret.
	SecretCredential string `yaml:"secretCredential,omitempty"`
	// Repository is the owner/repo slug used for commit status notifications.
	Repository string `yaml:"repository,omitempty"`
	// StatusContext is the commit status context reported back to GitHub.
	StatusContext string `yaml:"statusContext,omitempty"`
	// QueueSize bounds the pending run queue (defaults to 16).
	QueueSize int `yaml:"queueSize,omitempty"`
	// DedupWindow is how long delivery ids are remembered (e.g. "10m").
	DedupWindow string `yaml:"dedupWindow,omitempty"`
}

// HookSet defines commands run before and after a pipeline run.
type HookSet struct {
	// PreRun commands run before the first stage; a failure aborts the run.
	PreRun []string `yaml:"preRun,omitempty"`
	// PostRun commands run after the run finishes, regardless of outcome.
	PostRun []string `yaml:"postRun,omitempty"`
}

// StageSpec describes one pipeline stage.
type StageSpec struct {
	// Name is the unique stage name.
	Name string `yaml:"name"`
	// When guards the stage: nil means always run. A declared expression that
	// renders falsy skips the stage, including one the workflow file's own
	// template pass has already rendered down to an empty string.
	When *string `yaml:"when,omitempty"`
	// Run is the shell command executed for the stage.
	Run string `yaml:"run"`
	// Env adds stage-specific environment variables.
	Env map[string]string `yaml:"env,omitempty"`
	// Credentials lists credential ids injected into the stage environment.
	Credentials []string `yaml:"credentials,omitempty"`
	// Workdir is the working directory for the stage command.
	Workdir string `yaml:"workdir,omitempty"`
	// Timeout bounds stage execution (e.g. "15m"); empty means the engine default.
	Timeout string `yaml:"timeout,omitempty"`
	// TargetGroup names the inventory group whose groupVars feed this stage.
	TargetGroup string `yaml:"targetGroup,omitempty"`
}

// TemplateContext carries the values available to conveyor.yaml templates
// and to stage "when" expressions.
type TemplateContext struct {
	// Project is the project name from the workflow header.
	Project string
	// ProjectRoot is the directory containing conveyor.yaml.
	ProjectRoot string
	// Params holds the resolved parameter values for this run.
	Params map[string]string
	// UserVars holds CLI-provided overrides.
	UserVars env.Vars
	// EnvMap is the merged OS + env-file + var-file environment.
	EnvMap env.Vars
	// Now is the load timestamp, fixed for the whole render.
	Now time.Time
}

// LoadOptions controls workflow loading.
type LoadOptions struct {
	// Params overrides parameter values (from --param flags or webhook payloads).
	Params map[string]string
	// UserVars are inline variables from --set.
	UserVars env.Vars
	// VarFiles are additional YAML var-files merged into the template env.
	VarFiles []string
}
