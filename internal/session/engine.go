// Package session drives live transcription: it owns the active STT
// provider, feeds it audio, applies the retry and failover policy, and
// republishes provider output as pipeline events.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/events"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/metrics"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/factory"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

// sendQueueDepth bounds the audio send queue between the chunker and
// the provider. Under saturation the oldest queued chunk is dropped.
const sendQueueDepth = 32

// latencyAlpha is the smoothing factor of the per-provider latency EWMA.
const latencyAlpha = 0.2

// ProviderStats is a per-provider operation summary for the stats
// endpoint.
type ProviderStats struct {
	Requests    uint64        `json:"requests"`
	Failures    uint64        `json:"failures"`
	SuccessRate float64       `json:"successRate"`
	AvgLatency  time.Duration `json:"avgLatencyMs"`
}

// Engine manages the active provider and the audio path to it.
// Provider instances are created lazily and cached across switches so
// switching back does not re-initialize.
type Engine struct {
	cfg     *config.Config
	factory *factory.Factory
	bus     *events.Bus
	handler *stterror.Handler
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	providers  map[string]stt.Provider
	active     stt.Provider
	activeName string
	sessionID  string
	streaming  bool
	starting   bool
	opts       stt.StreamOptions
	stats      map[string]*ProviderStats

	sendCh   chan []byte
	sendStop chan struct{}
	sendDone chan struct{}

	onSegment func(models.TranscriptSegment)
}

// NewEngine creates an engine and wires the retry controller: retryable
// errors restart the stream after their backoff delay, exhausted or
// critical errors surface as events and trigger failover.
func NewEngine(cfg *config.Config, f *factory.Factory, bus *events.Bus) *Engine {
	e := &Engine{
		cfg:       cfg,
		factory:   f,
		bus:       bus,
		log:       logging.WithComponent("session"),
		metrics:   metrics.DefaultMetrics,
		providers: make(map[string]stt.Provider),
		stats:     make(map[string]*ProviderStats),
	}

	e.handler = stterror.NewHandler(stterror.Config{
		MaxRetries:         cfg.Retry.MaxRetries,
		RetryDelay:         cfg.Retry.RetryDelay,
		ExponentialBackoff: cfg.Retry.ExponentialBackoff,
		ErrorThreshold:     cfg.Retry.ErrorThreshold,
		Window:             time.Minute,
	})
	e.handler.OnRetry(e.retryStream)
	e.handler.OnMaxRetries(func(err *stterror.STTError) {
		bus.Publish(events.MaxRetriesExceeded{Err: err})
	})
	e.handler.OnThreshold(func(count int) {
		bus.Publish(events.ErrorThresholdExceeded{Count: count, Window: time.Minute})
	})
	e.handler.OnCritical(func(err *stterror.STTError) {
		bus.Publish(events.CriticalError{Err: err})
	})
	return e
}

// SetSegmentHandler registers the downstream segment consumer.
func (e *Engine) SetSegmentHandler(fn func(models.TranscriptSegment)) { e.onSegment = fn }

// ActiveProvider returns the name of the active provider, or empty when
// none is selected yet.
func (e *Engine) ActiveProvider() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeName
}

// SessionID returns the active session ID, or empty.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Stats returns a copy of the per-provider statistics.
func (e *Engine) Stats() map[string]ProviderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]ProviderStats, len(e.stats))
	for name, s := range e.stats {
		c := *s
		if c.Requests > 0 {
			c.SuccessRate = float64(c.Requests-c.Failures) / float64(c.Requests)
		}
		out[name] = c
	}
	return out
}

// ErrorStats returns the retry controller's aggregate snapshot.
func (e *Engine) ErrorStats() stterror.Statistics {
	return e.handler.Stats()
}

// provider returns the cached instance for name, creating and
// initializing it on first use.
func (e *Engine) provider(ctx context.Context, name string) (stt.Provider, error) {
	e.mu.Lock()
	if p, ok := e.providers[name]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	p, err := e.factory.Create(name)
	if err != nil {
		return nil, stterror.New(stterror.TypeInvalidRequest, name, "createProvider", err.Error())
	}

	start := time.Now()
	err = p.Initialize(ctx)
	e.recordOp(name, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.providers[name] = p
	e.mu.Unlock()
	return p, nil
}

// Start selects the default provider, opens its stream and starts the
// audio send loop.
func (e *Engine) Start(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	if e.streaming || e.starting {
		e.mu.Unlock()
		return fmt.Errorf("streaming session already active")
	}
	e.starting = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}()

	name := e.cfg.STT.DefaultProvider
	p, err := e.provider(ctx, name)
	if err != nil {
		return err
	}

	opts := e.streamOptions(name)
	start := time.Now()
	err = p.StartStreaming(ctx, opts, e)
	e.recordOp(name, err, time.Since(start))
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.active = p
	e.activeName = name
	e.sessionID = sessionID
	e.streaming = true
	e.opts = opts
	e.sendCh = make(chan []byte, sendQueueDepth)
	e.sendStop = make(chan struct{})
	e.sendDone = make(chan struct{})
	go e.sendLoop(e.sendCh, e.sendStop, e.sendDone)
	e.mu.Unlock()

	e.log.Info().
		Str("sessionId", sessionID).
		Str("provider", name).
		Msg("Streaming session started")
	return nil
}

func (e *Engine) streamOptions(name string) stt.StreamOptions {
	pc := e.cfg.Provider(name)
	return stt.StreamOptions{
		Language:       pc.Language,
		SampleRate:     pc.SampleRate,
		Channels:       pc.Channels,
		Model:          pc.Model,
		InterimResults: true,
	}
}

// Stop ends the stream and the send loop. Safe to call when not
// streaming.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.streaming {
		e.mu.Unlock()
		return nil
	}
	e.streaming = false
	p := e.active
	name := e.activeName
	stop := e.sendStop
	done := e.sendDone
	e.sendCh = nil
	e.sendStop = nil
	e.sendDone = nil
	e.sessionID = ""
	e.mu.Unlock()

	close(stop)
	<-done

	start := time.Now()
	err := p.StopStreaming()
	e.recordOp(name, err, time.Since(start))
	e.log.Info().Str("provider", name).Msg("Streaming session stopped")
	return err
}

// SendAudio enqueues one chunk without blocking the caller. When the
// queue is full the oldest chunk is discarded first.
func (e *Engine) SendAudio(data []byte) {
	e.mu.Lock()
	ch := e.sendCh
	e.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- data:
	default:
		select {
		case <-ch:
			e.metrics.SendQueueDropped.Inc()
		default:
		}
		select {
		case ch <- data:
		default:
		}
	}
}

func (e *Engine) sendLoop(ch <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case data := <-ch:
			e.deliver(data)
		}
	}
}

func (e *Engine) deliver(data []byte) {
	e.mu.Lock()
	p := e.active
	name := e.activeName
	streaming := e.streaming
	e.mu.Unlock()
	if !streaming || p == nil {
		return
	}

	start := time.Now()
	err := p.SendAudio(context.Background(), data)
	e.recordOp(name, err, time.Since(start))
	if err != nil {
		e.OnError(err)
	}
}

// SwitchProvider changes the active provider. Switching to the current
// provider is a no-op. An active stream is moved to the new provider;
// the new provider keeps the old one's cached instance available for
// switching back.
func (e *Engine) SwitchProvider(ctx context.Context, name string, failover bool) error {
	if !e.factory.Known(name) {
		return stterror.New(stterror.TypeInvalidRequest, name, "switchProvider",
			fmt.Sprintf("unknown provider %q", name))
	}

	e.mu.Lock()
	from := e.activeName
	streaming := e.streaming
	old := e.active
	e.mu.Unlock()

	if name == from {
		return nil
	}

	p, err := e.provider(ctx, name)
	if err != nil {
		return err
	}

	if streaming && old != nil {
		if err := old.StopStreaming(); err != nil {
			e.log.Warn().Err(err).Str("provider", from).Msg("Error stopping stream during switch")
		}
	}

	if streaming {
		opts := e.streamOptions(name)
		start := time.Now()
		err = p.StartStreaming(ctx, opts, e)
		e.recordOp(name, err, time.Since(start))
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.opts = opts
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.active = p
	e.activeName = name
	e.mu.Unlock()

	if failover {
		e.metrics.RecordFailover(from, name)
	}
	e.bus.Publish(events.ProviderSwitched{From: from, To: name, Failover: failover})
	e.log.Info().
		Str("from", from).
		Str("to", name).
		Bool("failover", failover).
		Msg("Provider switched")
	return nil
}

// TranscribeFile transcribes a complete file with the default provider
// and publishes the result.
func (e *Engine) TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error) {
	name := e.cfg.STT.DefaultProvider
	p, err := e.provider(ctx, name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	segs, err := p.TranscribeFile(ctx, path)
	e.recordOp(name, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	e.bus.Publish(events.TranscriptionComplete{Provider: name, Path: path, Segments: segs})
	return segs, nil
}

// OnSegment implements stt.Listener: provider output fans out to the
// bus and the registered consumer.
func (e *Engine) OnSegment(seg models.TranscriptSegment) {
	e.mu.Lock()
	sessionID := e.sessionID
	name := e.activeName
	onSegment := e.onSegment
	e.mu.Unlock()

	e.metrics.RecordSegment(seg.IsFinal)
	e.bus.Publish(events.TranscriptionResult{
		SessionID: sessionID,
		Provider:  name,
		Segment:   seg,
	})
	if onSegment != nil {
		onSegment(seg)
	}
}

// OnError implements stt.Listener: the error is classified, handed to
// the retry controller and, when the failover policy allows, the engine
// switches to the fallback provider.
func (e *Engine) OnError(err error) {
	e.mu.Lock()
	name := e.activeName
	e.mu.Unlock()

	se := stterror.Classify(err, name, "stream")
	e.bus.Publish(events.ProviderError{Err: se})
	e.handler.Handle(se)

	fallback := e.cfg.STT.FallbackProvider
	if e.cfg.STT.AutoSwitch && fallback != "" && fallback != name {
		if err := e.SwitchProvider(context.Background(), fallback, true); err != nil {
			e.log.Error().Err(err).Str("fallback", fallback).Msg("Failover failed")
		}
	}
}

// retryStream restarts the active stream after a retry delay elapses.
// The error is resolved when the restart succeeds.
func (e *Engine) retryStream(se *stterror.STTError) {
	e.mu.Lock()
	p := e.active
	name := e.activeName
	streaming := e.streaming
	e.mu.Unlock()
	if !streaming || p == nil || name != se.Provider {
		return
	}

	if err := p.StopStreaming(); err != nil {
		e.log.Debug().Err(err).Str("provider", name).Msg("Stop before retry failed")
	}

	opts := e.streamOptions(name)
	start := time.Now()
	err := p.StartStreaming(context.Background(), opts, e)
	e.recordOp(name, err, time.Since(start))
	if err != nil {
		// A failed restart draws on the same retry budget. Classifying
		// it as a fresh error would reset the attempt count and keep
		// the retry cap out of reach forever.
		ne := stterror.Classify(err, name, "retryStream")
		ne.RetryCount = se.RetryCount
		e.bus.Publish(events.ProviderError{Err: ne})
		e.handler.Handle(se)
		return
	}
	e.handler.Resolve(se.ID)
	e.log.Info().
		Str("provider", name).
		Int("attempt", se.RetryCount).
		Msg("Stream restarted after retry delay")
}

// recordOp updates the EWMA latency and counters for one provider
// operation.
func (e *Engine) recordOp(name string, err error, latency time.Duration) {
	e.metrics.RecordProviderRequest(name, err, latency.Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[name]
	if !ok {
		s = &ProviderStats{}
		e.stats[name] = s
	}
	s.Requests++
	if err != nil {
		s.Failures++
	}
	if s.AvgLatency == 0 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = time.Duration(float64(s.AvgLatency)*(1-latencyAlpha) + float64(latency)*latencyAlpha)
	}
}

// Close stops streaming, cancels pending retries and closes every
// cached provider.
func (e *Engine) Close() error {
	_ = e.Stop()
	e.handler.Stop()

	e.mu.Lock()
	providers := e.providers
	e.providers = make(map[string]stt.Provider)
	e.active = nil
	e.activeName = ""
	e.mu.Unlock()

	var first error
	for name, p := range providers {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing provider %s: %w", name, err)
		}
	}
	return first
}
