package credential

import (
	"context"
	"errors"
	"fmt"
)

// Provider is one credential backend. Implementations must be safe for
// concurrent use and must never log secret values.
type Provider interface {
	// Name returns the backend instance name from configuration.
	Name() string
	// Get resolves a credential by id, returning a NotFoundError when the
	// backend does not hold the id.
	Get(ctx context.Context, id string) (*Credential, error)
	// List returns metadata for every credential the backend can enumerate.
	// Backends that cannot enumerate (e.g. keyring) return an empty list.
	List(ctx context.Context) ([]Metadata, error)
}

// NotFoundError indicates that no backend holds the requested credential id.
type NotFoundError struct {
	// ID is the credential identifier that was requested.
	ID string
	// Backend names the backend that reported the miss, or "store" when every
	// configured backend was consulted.
	Backend string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "credential not found"
	}
	if e.Backend != "" && e.Backend != "store" {
		return fmt.Sprintf("credential %q not found in backend %q", e.ID, e.Backend)
	}
	return fmt.Sprintf("credential %q not found in any configured backend", e.ID)
}

// IsNotFound reports whether err indicates a missing credential.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
