// Package credential implements the credential store: typed secrets held in
// protected memory, resolved from pluggable backends and injected into stage
// environments. Secret values never reach logs; callers log ids and kinds only.
package credential

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Kind classifies a credential.
type Kind string

const (
	// KindSSH is a private key used for SSH connections.
	KindSSH Kind = "ssh"
	// KindUsernamePassword is a username/password pair (e.g. a registry login).
	KindUsernamePassword Kind = "usernamePassword"
	// KindToken is a single opaque secret value (API token, webhook secret).
	KindToken Kind = "token"
)

// Credential is a secret keyed by identifier. The username is plain metadata;
// the secret material lives in a memguard enclave, encrypted at rest in memory.
type Credential struct {
	ID       string
	Kind     Kind
	Username string

	secret *memguard.Enclave
}

// Metadata describes a credential without exposing its value.
type Metadata struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Backend string `json:"backend"`
}

// New builds a Credential, sealing the secret bytes into protected memory.
// The caller should not reuse the passed slice afterwards.
func New(id string, kind Kind, username string, secret []byte) (*Credential, error) {
	if id == "" {
		return nil, fmt.Errorf("credential id is empty")
	}
	switch kind {
	case KindSSH, KindUsernamePassword, KindToken:
	default:
		return nil, fmt.Errorf("credential %q: unknown kind %q", id, kind)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("credential %q: secret material is empty", id)
	}
	return &Credential{
		ID:       id,
		Kind:     kind,
		Username: username,
		secret:   memguard.NewEnclave(secret),
	}, nil
}

// Open decrypts the secret material. The caller must Destroy the returned
// buffer as soon as the plaintext is no longer needed.
func (c *Credential) Open() (*memguard.LockedBuffer, error) {
	if c.secret == nil {
		return nil, fmt.Errorf("credential %q has no secret material", c.ID)
	}
	return c.secret.Open()
}

// SecretString decrypts the secret and returns it as a string. Prefer Open
// when the plaintext lifetime matters; this helper exists for env injection
// where the value must cross a process boundary anyway.
func (c *Credential) SecretString() (string, error) {
	buf, err := c.Open()
	if err != nil {
		return "", fmt.Errorf("open credential %q: %w", c.ID, err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
