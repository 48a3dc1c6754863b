package githubapi

// CommitStatus is the request payload for the commit status API.
type CommitStatus struct {
	// State is one of success, failure, error or pending.
	State string `json:"state"`
	// TargetURL links the status to run details, when available.
	TargetURL string `json:"target_url,omitempty"`
	// Description is the short human-readable summary.
	Description string `json:"description,omitempty"`
	// Context distinguishes this status from other systems on the same commit.
	Context string `json:"context,omitempty"`
}
