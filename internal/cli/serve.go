package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/credential"
	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/githubapi"
	"github.com/conveyorci/conveyor/internal/store"
	"github.com/conveyorci/conveyor/internal/trigger"
)

// newServeCommand creates the "serve" subcommand that hosts the webhook
// trigger listener and the run worker.
func newServeCommand(opts *Options) *cobra.Command {
	var wf workflowFlags
	var listen, tlsCert, tlsKey string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for webhook triggers and execute queued pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			serveDefaults := parseServeEnv()
			if listen == "" {
				listen = serveDefaults.Listen
			}
			if listen == "" {
				listen = ":8080"
			}
			if tlsCert == "" {
				tlsCert = serveDefaults.TLSCert
			}
			if tlsKey == "" {
				tlsKey = serveDefaults.TLSKey
			}

			cfg, tmplCtx, err := loadWorkflow(opts, wf)
			if err != nil {
				return err
			}

			creds, err := buildCredentialStore(cfg, logger)
			if err != nil {
				return err
			}
			source, err := buildInventorySource(cfg, tmplCtx)
			if err != nil {
				return err
			}
			runs, err := store.Open(opts.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = runs.Close() }()

			eng := engine.New(cfg, tmplCtx, creds, source, runs, logger)

			listenerOpts := trigger.Options{
				Runner: eng,
				Runs:   runs,
				Logger: logger,
			}

			trg := cfg.Trigger
			if trg == nil {
				trg = &config.TriggerConfig{}
			}
			listenerOpts.Path = trg.Path
			listenerOpts.QueueSize = trg.QueueSize
			if trg.DedupWindow != "" {
				listenerOpts.DedupWindow, _ = time.ParseDuration(trg.DedupWindow)
			}

			if trg.SecretCredential != "" {
				if creds == nil {
					return errors.New("trigger.secretCredential is set but no credential backends are configured")
				}
				secret, err := webhookSecret(cmd.Context(), creds, trg.SecretCredential)
				if err != nil {
					return err
				}
				listenerOpts.Secret = secret
				logger.Info("webhook signature verification enabled", "credential", trg.SecretCredential)
			} else {
				logger.Warn("webhook signature verification disabled: no secretCredential configured")
			}

			if trg.Repository != "" {
				token := serveDefaults.GitHubToken
				if token == "" {
					logger.Warn("commit status notifications disabled: CONVEYOR_GITHUB_TOKEN is not set")
				} else {
					notifier, err := githubapi.NewClient(logger, token, trg.Repository, trg.StatusContext)
					if err != nil {
						return err
					}
					listenerOpts.Notifier = notifier
				}
			}

			listener := trigger.NewListener(listenerOpts)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go listener.RunWorker(ctx)

			srv := &http.Server{
				Addr:              listen,
				Handler:           listener.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("trigger listener started", "listen", listen, "path", listenerOpts.Path)
				if tlsCert != "" && tlsKey != "" {
					errCh <- srv.ListenAndServeTLS(tlsCert, tlsKey)
				} else {
					errCh <- srv.ListenAndServe()
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to CONVEYOR_LISTEN or :8080)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file (enables TLS together with --tls-key)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file")
	cmd.Flags().StringArrayVar(&wf.params, "param", nil, "Workflow parameter in name=value form (repeatable)")
	cmd.Flags().StringVar(&wf.setVars, "set", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().StringVar(&wf.varFile, "var-file", "", "Path to a YAML file with additional variables")

	return cmd
}

// webhookSecret resolves the webhook HMAC secret from the credential store.
func webhookSecret(ctx context.Context, creds *credential.Store, id string) ([]byte, error) {
	cred, err := creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	secret, err := cred.SecretString()
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

var _ trigger.Runner = (*engine.Engine)(nil)
