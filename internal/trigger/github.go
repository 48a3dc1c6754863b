package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// PushEvent is the subset of the GitHub push payload the listener consumes.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ParsePushEvent decodes a push payload.
func ParsePushEvent(body []byte) (*PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}
	return &event, nil
}

// VerifySignature checks a GitHub X-Hub-Signature-256 header against the raw
// request body using constant-time comparison.
func VerifySignature(secret, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("signature header must use sha256")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
