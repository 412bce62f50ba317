// Package reporting delivers conversation usage snapshots to a logging
// endpoint on a best-effort basis: bounded retries with exponential backoff,
// then the item is dropped and the drop is surfaced to the caller.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/teslashibe/go-voicekit/internal/httpc"
)

// Delivery policy. Reporting must never interrupt a live conversation, so
// after the retry cap the snapshot is lost by design.
const (
	DefaultMaxAttempts = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	defaultQueueSize = 64
)

// Snapshot is one conversation usage report.
type Snapshot struct {
	SessionID        string    `json:"sessionId"`
	Provider         string    `json:"provider"`
	StartedAt        time.Time `json:"startedAt"`
	DurationMs       int64     `json:"durationMs"`
	Messages         int       `json:"messages"`
	ToolCalls        int       `json:"toolCalls"`
	EstimatedTokens  int       `json:"estimatedTokens"`
	EstimatedCostUSD float64   `json:"estimatedCostUsd"`

	// Final marks the last snapshot of a session, sent on disconnect.
	Final bool `json:"final"`
}

// Reporter posts snapshots to a logging endpoint from a single background
// worker. Report never blocks the caller.
type Reporter struct {
	url         string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	onDropped   func(s Snapshot, err error)
	delay       func(attempt int) time.Duration

	queue chan Snapshot
	wg    sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithMaxAttempts overrides the delivery attempt cap.
func WithMaxAttempts(n int) Option {
	return func(r *Reporter) { r.maxAttempts = n }
}

// WithDroppedCallback observes snapshots lost after the retry cap. Without
// it, drops are only a log line.
func WithDroppedCallback(fn func(s Snapshot, err error)) Option {
	return func(r *Reporter) { r.onDropped = fn }
}

// WithOAuth authenticates deliveries with OAuth2 client credentials. The
// client secret is read from the named environment variable at construction
// time and never logged or stored elsewhere.
func WithOAuth(clientID, secretEnvVar, tokenURL string) Option {
	return func(r *Reporter) {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: os.Getenv(secretEnvVar),
			TokenURL:     tokenURL,
		}
		r.client = cc.Client(context.Background())
	}
}

// New creates a Reporter posting to url and starts its worker.
func New(url string, opts ...Option) *Reporter {
	r := &Reporter{
		url:         url,
		client:      httpc.Client,
		logger:      slog.Default().With("component", "reporting"),
		maxAttempts: DefaultMaxAttempts,
		delay:       retryDelay,
		queue:       make(chan Snapshot, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

// Report enqueues a snapshot. When the queue is full, or the reporter has
// been closed, the snapshot is dropped immediately; reporting never applies
// backpressure to the conversation.
func (r *Reporter) Report(s Snapshot) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("reporter closed, snapshot dropped",
			"session_id", s.SessionID,
		)
		if r.onDropped != nil {
			r.onDropped(s, fmt.Errorf("reporting: reporter closed"))
		}
		return
	}
	select {
	case r.queue <- s:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.logger.Warn("report queue full, snapshot dropped",
			"session_id", s.SessionID,
		)
		if r.onDropped != nil {
			r.onDropped(s, fmt.Errorf("reporting: queue full"))
		}
	}
}

// Close stops accepting snapshots and waits for the worker to drain.
// Snapshots reported after Close are dropped, not delivered.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

func (r *Reporter) worker() {
	defer r.wg.Done()
	for s := range r.queue {
		r.deliver(s)
	}
}

// deliver retries transient failures up to the attempt cap, then drops the
// snapshot and logs it as lost.
func (r *Reporter) deliver(s Snapshot) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(r.delay(attempt - 1))
		}
		if lastErr = r.post(s); lastErr == nil {
			return
		}
		r.logger.Debug("report attempt failed",
			"attempt", attempt,
			"error", lastErr,
		)
	}

	r.logger.Warn("usage snapshot lost after retries",
		"session_id", s.SessionID,
		"attempts", r.maxAttempts,
		"error", lastErr,
	)
	if r.onDropped != nil {
		r.onDropped(s, lastErr)
	}
}

func (r *Reporter) post(s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("reporting: marshal snapshot: %w", err)
	}

	resp, err := r.client.Post(r.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reporting: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reporting: post failed with status %d", resp.StatusCode)
	}
	return nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 4 {
		return retryMaxDelay
	}
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}
