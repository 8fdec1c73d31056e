package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/audio"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/events"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/metrics"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/factory"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/transcript"
)

// Pipeline wires the full capture-to-transcript path: pushed PCM goes
// through the ring chunker and quality analyzer into the engine's
// provider stream, and provider segments flow into the aggregator.
type Pipeline struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	Bus        *events.Bus
	Engine     *Engine
	Aggregator *transcript.Aggregator

	chunker *audio.RingChunker
	quality *audio.QualityWindow

	mu      sync.Mutex
	running bool
}

// Stats is the pipeline snapshot served by the stats endpoint.
type Stats struct {
	SessionID      string                   `json:"sessionId,omitempty"`
	ActiveProvider string                   `json:"activeProvider,omitempty"`
	Running        bool                     `json:"running"`
	Ring           audio.RingStats          `json:"ring"`
	Quality        audio.WindowStats        `json:"quality"`
	Providers      map[string]ProviderStats `json:"providers"`
	Speakers       []models.Speaker         `json:"speakers,omitempty"`
	ErrorsTotal    int                      `json:"errorsTotal"`
}

// NewPipeline assembles the pipeline from configuration.
func NewPipeline(cfg *config.Config) *Pipeline {
	bus := events.NewBus(0)
	f := factory.New(cfg)

	p := &Pipeline{
		cfg:        cfg,
		log:        logging.WithComponent("pipeline"),
		metrics:    metrics.DefaultMetrics,
		Bus:        bus,
		Engine:     NewEngine(cfg, f, bus),
		Aggregator: transcript.New(cfg.Aggregation),
		chunker: audio.NewRingChunker(
			cfg.Audio.SampleRate,
			cfg.Audio.Channels,
			time.Duration(cfg.Audio.ChunkDuration*float64(time.Second)),
			cfg.Audio.MaxBufferBytes,
		),
		quality: audio.NewQualityWindow(),
	}

	p.chunker.OnChunk(p.handleChunk)
	p.Engine.SetSegmentHandler(p.handleSegment)
	p.Aggregator.OnBatch(func(t *models.AggregatedTranscript) {
		bus.Publish(events.BatchProcessed{Batch: t})
	})
	p.Aggregator.OnSegment(func(seg models.TranscriptSegment) {
		bus.Publish(events.SegmentAdded{SessionID: p.Aggregator.SessionID(), Segment: seg})
	})
	return p
}

// StartSession opens a streaming session. A generated session ID is
// used when the argument is empty.
func (p *Pipeline) StartSession(ctx context.Context, sessionID string) (string, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return "", fmt.Errorf("session already running")
	}
	p.mu.Unlock()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := p.Engine.Start(ctx, sessionID); err != nil {
		return "", err
	}
	if err := p.Aggregator.StartSession(sessionID); err != nil {
		_ = p.Engine.Stop()
		return "", err
	}

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.metrics.RecordSessionStart()
	p.Bus.Publish(events.SessionStarted{
		SessionID: sessionID,
		Provider:  p.Engine.ActiveProvider(),
		StartedAt: time.Now(),
	})
	p.log.Info().Str("sessionId", sessionID).Msg("Session started")
	return sessionID, nil
}

// StopSession drains the stream, flushes the final transcript and
// returns it. Safe to call when no session is running.
func (p *Pipeline) StopSession() (*models.AggregatedTranscript, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, nil
	}
	p.running = false
	p.mu.Unlock()

	sessionID := p.Engine.SessionID()
	stopErr := p.Engine.Stop()

	final, err := p.Aggregator.StopSession()
	if err != nil {
		p.log.Warn().Err(err).Msg("Aggregator stop failed")
	}
	p.chunker.Clear()

	p.metrics.RecordSessionEnd()
	p.Bus.Publish(events.SessionStopped{
		SessionID: sessionID,
		Final:     final,
		StoppedAt: time.Now(),
	})
	p.log.Info().Str("sessionId", sessionID).Msg("Session stopped")
	return final, stopErr
}

// OnAudioData is the capture-side push callback: raw PCM bytes enter
// the ring buffer here. Dropping under pressure happens downstream;
// this call never blocks on the provider.
func (p *Pipeline) OnAudioData(data []byte) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}

	p.metrics.RecordAudioReceived(len(data))
	before := p.chunker.Stats().BytesEvicted
	p.chunker.Append(data)
	after := p.chunker.Stats()
	if evicted := after.BytesEvicted - before; evicted > 0 {
		p.metrics.RecordEviction(int(evicted))
	}
	p.metrics.RingBufferBytes.Set(float64(after.BufferedBytes))
}

// handleChunk analyzes a chunk and forwards it to the provider stream.
// Silent chunks still flow through; providers handle silence better
// than gaps.
func (p *Pipeline) handleChunk(c audio.Chunk) {
	m := audio.Analyze(c.Data)
	p.quality.Add(m)
	p.metrics.RecordChunk(m.Silent)
	p.Bus.Publish(events.ChunkReady{
		SessionID: p.Engine.SessionID(),
		Size:      len(c.Data),
		Level:     m.Level,
		Silent:    m.Silent,
	})
	p.Engine.SendAudio(c.Data)
}

// handleSegment routes provider segments into the aggregator.
func (p *Pipeline) handleSegment(seg models.TranscriptSegment) {
	if err := p.Aggregator.AddSegment(seg); err != nil {
		p.log.Debug().Err(err).Msg("Segment dropped outside active session")
	}
}

// Stats builds a snapshot for the stats endpoint.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return Stats{
		SessionID:      p.Engine.SessionID(),
		ActiveProvider: p.Engine.ActiveProvider(),
		Running:        running,
		Ring:           p.chunker.Stats(),
		Quality:        p.quality.Stats(),
		Providers:      p.Engine.Stats(),
		Speakers:       p.Aggregator.Speakers(),
		ErrorsTotal:    p.Engine.ErrorStats().Total,
	}
}

// Close shuts the pipeline down.
func (p *Pipeline) Close() error {
	_, _ = p.StopSession()
	err := p.Engine.Close()
	p.Bus.Close()
	return err
}
