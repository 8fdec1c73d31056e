package stterror

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/metrics"
)

// recentCapacity bounds the ring of recent errors kept for statistics.
const recentCapacity = 100

// Config controls retry scheduling and the threshold alert.
type Config struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	ErrorThreshold     int           // errors within Window that trigger the alert
	Window             time.Duration // sliding window size
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		ErrorThreshold:     5,
		Window:             time.Minute,
	}
}

// Statistics is an aggregate snapshot of handled errors.
type Statistics struct {
	Total         int               `json:"total"`
	ByType        map[ErrorType]int `json:"byType"`
	BySeverity    map[Severity]int  `json:"bySeverity"`
	ByProvider    map[string]int    `json:"byProvider"`
	Recent        []STTError        `json:"recent"`
	WindowCount   int               `json:"windowCount"`
	AvgResolution time.Duration     `json:"avgResolutionMs"`
}

// Handler records classified errors, schedules retries for retryable
// ones, and raises a threshold alert when errors cluster inside the
// sliding window. Callbacks are invoked from timer goroutines and must
// not block.
type Handler struct {
	mu  sync.Mutex
	cfg Config

	recent   []*STTError
	window   []time.Time
	breached bool

	byType     map[ErrorType]int
	bySeverity map[Severity]int
	byProvider map[string]int
	total      int

	resolvedCount   int
	totalResolution time.Duration

	timers  map[string]*time.Timer
	stopped bool

	onRetry      func(*STTError)
	onMaxRetries func(*STTError)
	onThreshold  func(count int)
	onCritical   func(*STTError)

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewHandler creates an error handler with the given policy.
func NewHandler(cfg Config) *Handler {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Handler{
		cfg:        cfg,
		byType:     make(map[ErrorType]int),
		bySeverity: make(map[Severity]int),
		byProvider: make(map[string]int),
		timers:     make(map[string]*time.Timer),
		log:        logging.WithComponent("stterror"),
		metrics:    metrics.DefaultMetrics,
	}
}

// OnRetry registers the callback fired when a retry delay elapses.
func (h *Handler) OnRetry(fn func(*STTError)) { h.onRetry = fn }

// OnMaxRetries registers the terminal retry-exhaustion callback.
func (h *Handler) OnMaxRetries(fn func(*STTError)) { h.onMaxRetries = fn }

// OnThreshold registers the sliding-window breach callback.
func (h *Handler) OnThreshold(fn func(count int)) { h.onThreshold = fn }

// OnCritical registers the critical-error callback.
func (h *Handler) OnCritical(fn func(*STTError)) { h.onCritical = fn }

// NextDelay returns the delay before the given retry attempt (1-based):
// base x 2^(attempt-1) with exponential backoff, flat base otherwise.
func (h *Handler) NextDelay(attempt int) time.Duration {
	if !h.cfg.ExponentialBackoff {
		return h.cfg.RetryDelay
	}
	d := h.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Handle records an error and applies the retry policy. It returns true
// if a retry was scheduled. Critical errors never retry; non-retryable
// or cap-exceeded errors surface through the registered callbacks.
func (h *Handler) Handle(e *STTError) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	e.MaxRetries = h.cfg.MaxRetries
	h.recordLocked(e)
	breach, windowCount := h.updateWindowLocked(e.Timestamp)
	h.mu.Unlock()

	h.metrics.RecordProviderError(e.Provider, string(e.Type))
	h.log.Warn().
		Str("errorId", e.ID).
		Str("type", string(e.Type)).
		Str("severity", string(e.Severity)).
		Str("provider", e.Provider).
		Str("operation", e.Operation).
		Int("retryCount", e.RetryCount).
		Msg(e.Message)

	if breach {
		h.metrics.ThresholdBreaches.Inc()
		if h.onThreshold != nil {
			h.onThreshold(windowCount)
		}
	}

	if e.IsCritical() {
		if h.onCritical != nil {
			h.onCritical(e)
		}
		return false
	}
	if !e.Retryable {
		return false
	}

	attempt := e.RetryCount + 1
	if attempt > h.cfg.MaxRetries {
		h.metrics.MaxRetriesExceeded.Inc()
		if h.onMaxRetries != nil {
			h.onMaxRetries(e)
		}
		return false
	}

	delay := h.NextDelay(attempt)
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.timers[e.ID] = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.timers, e.ID)
		stopped := h.stopped
		e.RetryCount = attempt
		h.mu.Unlock()
		if stopped {
			return
		}
		if h.onRetry != nil {
			h.onRetry(e)
		}
	})
	h.mu.Unlock()

	h.metrics.RetriesScheduled.Inc()
	h.log.Debug().
		Str("errorId", e.ID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Retry scheduled")
	return true
}

func (h *Handler) recordLocked(e *STTError) {
	h.total++
	h.byType[e.Type]++
	h.bySeverity[e.Severity]++
	if e.Provider != "" {
		h.byProvider[e.Provider]++
	}
	h.recent = append(h.recent, e)
	if len(h.recent) > recentCapacity {
		h.recent = h.recent[len(h.recent)-recentCapacity:]
	}
}

// updateWindowLocked prunes the sliding window and reports whether this
// error pushed the count over the threshold. The breach latch resets
// once the window drains below the threshold, so the alert fires once
// per breach rather than once per error.
func (h *Handler) updateWindowLocked(now time.Time) (bool, int) {
	cutoff := now.Add(-h.cfg.Window)
	kept := h.window[:0]
	for _, ts := range h.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.window = append(kept, now)

	count := len(h.window)
	if count < h.cfg.ErrorThreshold {
		h.breached = false
		return false, count
	}
	if h.breached {
		return false, count
	}
	h.breached = true
	return true, count
}

// Resolve marks an error resolved and records its time-to-resolution in
// the running average. Returns false if the error is unknown or already
// resolved.
func (h *Handler) Resolve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.recent {
		if e.ID != id || e.Resolved {
			continue
		}
		e.Resolved = true
		e.ResolvedAt = time.Now()
		h.resolvedCount++
		h.totalResolution += e.ResolvedAt.Sub(e.Timestamp)
		return true
	}
	return false
}

// Stats returns an aggregate snapshot.
func (h *Handler) Stats() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Statistics{
		Total:       h.total,
		ByType:      make(map[ErrorType]int, len(h.byType)),
		BySeverity:  make(map[Severity]int, len(h.bySeverity)),
		ByProvider:  make(map[string]int, len(h.byProvider)),
		Recent:      make([]STTError, 0, len(h.recent)),
		WindowCount: len(h.window),
	}
	for k, v := range h.byType {
		s.ByType[k] = v
	}
	for k, v := range h.bySeverity {
		s.BySeverity[k] = v
	}
	for k, v := range h.byProvider {
		s.ByProvider[k] = v
	}
	for _, e := range h.recent {
		s.Recent = append(s.Recent, *e)
	}
	if h.resolvedCount > 0 {
		s.AvgResolution = h.totalResolution / time.Duration(h.resolvedCount)
	}
	return s
}

// Stop cancels all pending retry timers. Safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
}
