package trigger

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/store"
)

// fakeRunner records run options and can block to keep the queue busy.
type fakeRunner struct {
	mu   sync.Mutex
	runs []engine.RunOptions
	err  error
}

func (f *fakeRunner) Run(_ context.Context, opts engine.RunOptions) (*store.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &store.RunRecord{ID: "run-1", State: store.RunSucceeded, Commit: opts.Commit}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

const testSecret = "webhook-secret"

var pushBody = []byte(`{
	"ref": "refs/heads/main",
	"after": "abc123",
	"repository": {"full_name": "acme/webapp"},
	"sender": {"login": "dev"}
}`)

func newTestListener(t *testing.T, opts Options) *Listener {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Secret == nil {
		opts.Secret = []byte(testSecret)
	}
	return NewListener(opts)
}

func postWebhook(l *Listener, delivery, event string, body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/github-webhook/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	if sign {
		req.Header.Set("X-Hub-Signature-256", signBody([]byte(testSecret), body))
	}
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("valid push is queued", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		rec := postWebhook(l, "d-1", "push", pushBody, true)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "queued")

		req := <-l.queue
		assert.Equal(t, "refs/heads/main", req.Ref)
		assert.Equal(t, "abc123", req.Commit)
		assert.Equal(t, "dev", req.Sender)
	})

	t.Run("bad signature is unauthorized", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		rec := postWebhook(l, "d-1", "push", pushBody, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		req := httptest.NewRequest(http.MethodPost, "/github-webhook/", bytes.NewReader(pushBody))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("non-push events are ignored", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		rec := postWebhook(l, "d-1", "ping", []byte(`{"zen":"ok"}`), true)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "ignored")
		assert.Empty(t, l.queue)
	})

	t.Run("deleted refs are ignored", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		body := []byte(`{"ref":"refs/heads/gone","deleted":true}`)
		rec := postWebhook(l, "d-1", "push", body, true)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "ref deleted")
		assert.Empty(t, l.queue)
	})

	t.Run("duplicate deliveries collapse within the window", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}, QueueSize: 4})

		first := postWebhook(l, "d-dup", "push", pushBody, true)
		assert.Equal(t, http.StatusAccepted, first.Code)
		assert.Contains(t, first.Body.String(), "queued")

		second := postWebhook(l, "d-dup", "push", pushBody, true)
		assert.Equal(t, http.StatusAccepted, second.Code)
		assert.Contains(t, second.Body.String(), "duplicate")
		assert.Len(t, l.queue, 1)
	})

	t.Run("delivery id expires after the window", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}, QueueSize: 4, DedupWindow: time.Minute})

		current := time.Now()
		l.now = func() time.Time { return current }

		postWebhook(l, "d-exp", "push", pushBody, true)
		current = current.Add(2 * time.Minute)

		rec := postWebhook(l, "d-exp", "push", pushBody, true)
		assert.Contains(t, rec.Body.String(), "queued")
		assert.Len(t, l.queue, 2)
	})

	t.Run("full queue returns 503", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}, QueueSize: 1})

		first := postWebhook(l, "d-1", "push", pushBody, true)
		assert.Equal(t, http.StatusAccepted, first.Code)

		second := postWebhook(l, "d-2", "push", pushBody, true)
		assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	})

	t.Run("malformed payload is a bad request", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		rec := postWebhook(l, "d-1", "push", []byte("{not json"), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunWorker(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	l := newTestListener(t, Options{Runner: runner, QueueSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.RunWorker(ctx)

	postWebhook(l, "d-1", "push", pushBody, true)
	postWebhook(l, "d-2", "push", pushBody, true)

	require.Eventually(t, func() bool { return runner.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, "webhook", runner.runs[0].Trigger)
	assert.Equal(t, "abc123", runner.runs[0].Commit)
	assert.Equal(t, "dev", runner.runs[0].Sender)
}

func TestHealthAndRunEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("runs endpoints without a store", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("metrics endpoint serves", func(t *testing.T) {
		t.Parallel()
		l := newTestListener(t, Options{Runner: &fakeRunner{}})

		postWebhook(l, "d-1", "push", pushBody, true)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "conveyor_webhook_deliveries_received_total")
	})
}
