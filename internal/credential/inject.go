package credential

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/conveyorci/conveyor/internal/env"
	"github.com/conveyorci/conveyor/internal/logging"
)

// sshKeyFileVar points stages at the private key file of the first injected
// SSH credential, so commands like ansible-playbook can reference one
// well-known variable.
const sshKeyFileVar = "CONVEYOR_SSH_KEY_FILE"

// Injection is the result of binding credentials into a stage environment.
type Injection struct {
	// Env contains the variables to merge into the stage environment.
	Env env.Vars
	// Secrets carries the injected values, wrapped so a stray %v or log
	// attribute prints the placeholder instead of the value. They feed the
	// stage redactor.
	Secrets []logging.Secret

	tempFiles []string
}

// Inject resolves the given credential ids and materializes them as
// environment variables:
//
//   - ssh keys are written to a 0600 temp file; <ID>_KEY_FILE (and
//     CONVEYOR_SSH_KEY_FILE for the first key) point at it,
//   - username/password pairs become <ID>_USR and <ID>_PSW,
//   - tokens become <ID>.
//
// The caller must call Cleanup on the returned Injection after the stage
// finishes so key files do not outlive the run.
func (s *Store) Inject(ctx context.Context, ids []string) (*Injection, error) {
	inj := &Injection{Env: make(env.Vars)}

	for _, id := range ids {
		cred, err := s.Get(ctx, id)
		if err != nil {
			inj.Cleanup()
			return nil, err
		}

		secret, err := cred.SecretString()
		if err != nil {
			inj.Cleanup()
			return nil, err
		}
		inj.Secrets = append(inj.Secrets, logging.Secret(secret))

		key := EnvKey(id)
		switch cred.Kind {
		case KindSSH:
			path, err := writeKeyFile(id, secret)
			if err != nil {
				inj.Cleanup()
				return nil, err
			}
			inj.tempFiles = append(inj.tempFiles, path)
			inj.Env[key+"_KEY_FILE"] = path
			if _, set := inj.Env[sshKeyFileVar]; !set {
				inj.Env[sshKeyFileVar] = path
			}
		case KindUsernamePassword:
			inj.Env[key+"_USR"] = cred.Username
			inj.Env[key+"_PSW"] = secret
		case KindToken:
			inj.Env[key] = secret
		}
	}

	return inj, nil
}

// Cleanup removes materialized key files. Safe to call multiple times.
func (inj *Injection) Cleanup() {
	for _, path := range inj.tempFiles {
		_ = os.Remove(path)
	}
	inj.tempFiles = nil
}

// EnvKey maps a credential id to an environment variable name: upper-cased
// with every non-alphanumeric character replaced by an underscore.
func EnvKey(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func writeKeyFile(id, key string) (string, error) {
	f, err := os.CreateTemp("", "conveyor-key-*")
	if err != nil {
		return "", fmt.Errorf("credential %q: create key file: %w", id, err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("credential %q: chmod key file: %w", id, err)
	}
	if _, err := f.WriteString(key); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("credential %q: write key file: %w", id, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("credential %q: close key file: %w", id, err)
	}
	return path, nil
}
