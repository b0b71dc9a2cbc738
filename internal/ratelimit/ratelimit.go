// Package ratelimit implements the per-requester fixed-window admission
// control protecting the ticketing backend and the LLM providers from abuse.
//
// The limiter is advisory: windows live in shared storage without
// transactional isolation, so concurrent requests for the same requester can
// undercount by one per overlapping pair, and any storage failure fails open.
// Availability favors the user over strict enforcement.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// Defaults for the admission window.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 20
	// DefaultAnonymousBucket is the shared bucket for requests that carry
	// no identity at all. All unauthenticated requesters share its quota;
	// the bucket key is configurable for deployments that want otherwise.
	DefaultAnonymousBucket = "anonymous"
)

// WindowStore is the subset of the store the limiter needs.
type WindowStore interface {
	GetRateLimitWindow(requesterID string) (*models.RateLimitWindow, error)
	SaveRateLimitWindow(w models.RateLimitWindow) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Opts holds limiter configuration.
type Opts struct {
	Window          time.Duration
	MaxRequests     int
	AnonymousBucket string
}

// Option configures limiter creation.
type Option func(*Opts)

// WithWindow sets the window duration.
func WithWindow(d time.Duration) Option { return func(o *Opts) { o.Window = d } }

// WithMaxRequests sets the maximum requests per window.
func WithMaxRequests(n int) Option { return func(o *Opts) { o.MaxRequests = n } }

// WithAnonymousBucket sets the bucket key used for unidentified requesters.
func WithAnonymousBucket(b string) Option { return func(o *Opts) { o.AnonymousBucket = b } }

// Limiter is a store-backed fixed-window rate limiter.
type Limiter struct {
	store           WindowStore
	window          time.Duration
	maxRequests     int
	anonymousBucket string
	now             func() time.Time
}

// NewLimiter creates a limiter over the given window store.
func NewLimiter(store WindowStore, opts ...Option) *Limiter {
	cfg := Opts{
		Window:          DefaultWindow,
		MaxRequests:     DefaultMaxRequests,
		AnonymousBucket: DefaultAnonymousBucket,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Limiter{
		store:           store,
		window:          cfg.Window,
		maxRequests:     cfg.MaxRequests,
		anonymousBucket: cfg.AnonymousBucket,
		now:             time.Now,
	}
}

// RequesterID derives the rate-limit bucket for a request, preferring the
// authenticated account id, then the conversation id, then the shared
// anonymous bucket.
func (l *Limiter) RequesterID(accountID, conversationID string) string {
	if accountID != "" {
		return accountID
	}
	if conversationID != "" {
		return conversationID
	}
	return l.anonymousBucket
}

// Admit checks and updates the requester's window. Storage failures allow
// the request through.
func (l *Limiter) Admit(ctx context.Context, requesterID string) Decision {
	now := l.now()

	w, err := l.store.GetRateLimitWindow(requesterID)
	if err != nil {
		slog.Warn("Limiter.Admit window read failed, failing open", "error", err, "requesterID", requesterID)
		return Decision{Allowed: true}
	}

	if w == nil || now.Sub(w.WindowStart) >= l.window {
		fresh := models.RateLimitWindow{RequesterID: requesterID, WindowStart: now, Count: 1}
		if err := l.store.SaveRateLimitWindow(fresh); err != nil {
			slog.Warn("Limiter.Admit window save failed, failing open", "error", err, "requesterID", requesterID)
		}
		return Decision{Allowed: true}
	}

	if w.Count < l.maxRequests {
		w.Count++
		if err := l.store.SaveRateLimitWindow(*w); err != nil {
			slog.Warn("Limiter.Admit window save failed, failing open", "error", err, "requesterID", requesterID)
		}
		return Decision{Allowed: true}
	}

	remaining := l.window - now.Sub(w.WindowStart)
	retryAfter := int((remaining + time.Second - 1) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	slog.Info("Limiter.Admit denied", "requesterID", requesterID, "retryAfterSeconds", retryAfter)
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter}
}
