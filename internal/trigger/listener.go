// Package trigger hosts the webhook trigger listener: an HTTP endpoint that
// turns GitHub push deliveries into queued pipeline runs, plus the worker
// that drains the queue one run at a time.
package trigger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conveyorci/conveyor/internal/engine"
	"github.com/conveyorci/conveyor/internal/store"
)

const (
	defaultWebhookPath = "/github-webhook/"
	defaultQueueSize   = 16
	defaultDedupWindow = 10 * time.Minute
	maxPayloadBytes    = 10 << 20
)

// Runner executes one pipeline run; implemented by engine.Engine.
type Runner interface {
	Run(ctx context.Context, opts engine.RunOptions) (*store.RunRecord, error)
}

// Notifier reports finished runs to an external system (e.g. commit statuses).
type Notifier interface {
	NotifyRunFinished(ctx context.Context, run *store.RunRecord) error
}

// RunRequest is a queued request produced by an accepted delivery.
type RunRequest struct {
	DeliveryID string
	Ref        string
	Commit     string
	Sender     string
}

// Options configures a Listener.
type Options struct {
	// Path is the webhook endpoint path; empty means /github-webhook/.
	Path string
	// Secret is the HMAC secret; nil disables signature verification.
	Secret []byte
	// QueueSize bounds the pending run queue.
	QueueSize int
	// DedupWindow is how long delivery ids are remembered.
	DedupWindow time.Duration
	// Runner executes queued runs.
	Runner Runner
	// Notifier, when set, is told about finished webhook runs.
	Notifier Notifier
	// Runs serves the read-only run endpoints; nil disables them.
	Runs *store.Store
	// Logger receives listener activity.
	Logger *slog.Logger
	// Registry receives the listener metrics; nil uses a fresh registry.
	Registry *prometheus.Registry
}

// Listener accepts webhook deliveries and feeds the run worker.
type Listener struct {
	path        string
	secret      []byte
	dedupWindow time.Duration
	runner      Runner
	notifier    Notifier
	runs        *store.Store
	logger      *slog.Logger
	metrics     *Metrics
	registry    *prometheus.Registry

	queue chan RunRequest

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewListener builds a Listener from options.
func NewListener(opts Options) *Listener {
	path := opts.Path
	if path == "" {
		path = defaultWebhookPath
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	window := opts.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	return &Listener{
		path:        path,
		secret:      opts.Secret,
		dedupWindow: window,
		runner:      opts.Runner,
		notifier:    opts.Notifier,
		runs:        opts.Runs,
		logger:      logger,
		metrics:     NewMetrics(registry),
		registry:    registry,
		queue:       make(chan RunRequest, queueSize),
		seen:        make(map[string]time.Time),
		now:         time.Now,
	}
}

// Handler returns the HTTP routes: the webhook endpoint, health, run queries
// and prometheus metrics.
func (l *Listener) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(l.path, l.handleWebhook)
	r.Get("/healthz", l.handleHealth)
	r.Get("/runs", l.handleListRuns)
	r.Get("/runs/{id}", l.handleGetRun)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))
	return r
}

// RunWorker drains the queue until ctx is cancelled, executing runs
// sequentially: webhook bursts queue up rather than racing each other.
func (l *Listener) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.queue:
			l.metrics.QueueDepth.Set(float64(len(l.queue)))
			l.executeRun(ctx, req)
		}
	}
}

func (l *Listener) executeRun(ctx context.Context, req RunRequest) {
	l.metrics.RunsStarted.Inc()
	l.logger.Info("webhook run starting", "delivery", req.DeliveryID, "ref", req.Ref, "commit", req.Commit)

	started := l.now()
	run, err := l.runner.Run(ctx, engine.RunOptions{
		Trigger: "webhook",
		Ref:     req.Ref,
		Commit:  req.Commit,
		Sender:  req.Sender,
	})
	l.metrics.RunDuration.Observe(l.now().Sub(started).Seconds())

	if err != nil {
		l.metrics.RunsFailed.Inc()
		l.logger.Error("webhook run failed", "delivery", req.DeliveryID, "error", err)
	} else {
		l.metrics.RunsSucceeded.Inc()
	}

	if l.notifier != nil && run != nil {
		if nerr := l.notifier.NotifyRunFinished(ctx, run); nerr != nil {
			l.logger.Warn("run notification failed", "run", run.ID, "error", nerr)
		}
	}
}

// handleWebhook accepts a push delivery and enqueues a run request. Accepting
// is O(1); execution always happens on the worker.
func (l *Listener) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		l.reject(w, http.StatusUnsupportedMediaType, "content_type", "expected application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		l.reject(w, http.StatusBadRequest, "body", "read payload failed")
		return
	}

	if l.secret != nil {
		if err := VerifySignature(l.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			l.reject(w, http.StatusUnauthorized, "signature", err.Error())
			return
		}
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "push" {
		l.logger.Debug("ignoring webhook event", "event", event)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "reason": "not a push event"})
		return
	}

	push, err := ParsePushEvent(body)
	if err != nil {
		l.reject(w, http.StatusBadRequest, "payload", err.Error())
		return
	}
	if push.Deleted {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "reason": "ref deleted"})
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID != "" && l.alreadySeen(deliveryID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	}

	req := RunRequest{
		DeliveryID: deliveryID,
		Ref:        push.Ref,
		Commit:     push.After,
		Sender:     push.Sender.Login,
	}

	select {
	case l.queue <- req:
		l.metrics.DeliveriesReceived.Inc()
		l.metrics.QueueDepth.Set(float64(len(l.queue)))
		l.logger.Info("delivery queued", "delivery", deliveryID, "ref", push.Ref, "sender", push.Sender.Login)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		l.reject(w, http.StatusServiceUnavailable, "queue_full", "run queue is full")
	}
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (l *Listener) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	if l.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run store not configured"})
		return
	}
	runs, err := l.runs.ListRuns(50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs, "total": len(runs)})
}

func (l *Listener) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if l.runs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run store not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	run, err := l.runs.GetRun(id)
	if err != nil {
		if store.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	stages, err := l.runs.ListStageResults(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "stages": stages})
}

// alreadySeen records the delivery id and reports whether it was seen within
// the dedup window, pruning expired entries as a side effect.
func (l *Listener) alreadySeen(deliveryID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, seenAt := range l.seen {
		if now.Sub(seenAt) > l.dedupWindow {
			delete(l.seen, id)
		}
	}

	if _, dup := l.seen[deliveryID]; dup {
		return true
	}
	l.seen[deliveryID] = now
	return false
}

func (l *Listener) reject(w http.ResponseWriter, status int, reason, message string) {
	l.metrics.DeliveriesRejected.WithLabelValues(reason).Inc()
	l.logger.Warn("delivery rejected", "reason", reason, "detail", message)
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
