package cli

import (
	envparse "github.com/caarlos0/env/v11"

	"github.com/conveyorci/conveyor/internal/logging"
)

// baseEnv defines root CLI defaults sourced from CONVEYOR_* env vars.
type baseEnv struct {
	// ConfigPath is the conveyor.yaml path from CONVEYOR_CONFIG.
	ConfigPath string `env:"CONVEYOR_CONFIG"`
	// DBPath is the run store path from CONVEYOR_DB.
	DBPath string `env:"CONVEYOR_DB"`
	// LogLevel is the logging level from CONVEYOR_LOG_LEVEL.
	LogLevel string `env:"CONVEYOR_LOG_LEVEL"`
}

// serveEnv captures CONVEYOR_* inputs for the serve command.
type serveEnv struct {
	// Listen is the bind address from CONVEYOR_LISTEN.
	Listen string `env:"CONVEYOR_LISTEN"`
	// GitHubToken authenticates commit status notifications, from CONVEYOR_GITHUB_TOKEN.
	GitHubToken string `env:"CONVEYOR_GITHUB_TOKEN"`
	// TLSCert is the TLS certificate path from CONVEYOR_TLS_CERT.
	TLSCert string `env:"CONVEYOR_TLS_CERT"`
	// TLSKey is the TLS key path from CONVEYOR_TLS_KEY.
	TLSKey string `env:"CONVEYOR_TLS_KEY"`
}

// applyBaseEnv overlays CONVEYOR_* environment defaults onto the root options.
func applyBaseEnv(opts *Options) {
	var cfg baseEnv
	if err := envparse.Parse(&cfg); err != nil {
		return
	}
	if cfg.ConfigPath != "" {
		opts.ConfigPath = cfg.ConfigPath
	}
	if cfg.DBPath != "" {
		opts.DBPath = cfg.DBPath
	}
	if cfg.LogLevel != "" {
		opts.LogLevel = logging.ParseLevel(cfg.LogLevel)
	}
}

// parseServeEnv reads serve defaults from the environment.
func parseServeEnv() serveEnv {
	var cfg serveEnv
	_ = envparse.Parse(&cfg)
	return cfg
}
