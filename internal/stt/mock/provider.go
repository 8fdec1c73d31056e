// Package mock provides a simulated STT provider for development and
// tests without cloud credentials. It emits progressive interim
// segments followed by exactly one final segment per utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

// Utterance is a scripted utterance with progressive interim texts.
type Utterance struct {
	Interims   []string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []Utterance{
	{
		Interims:   []string{"let's go", "let's go over the", "let's go over the agenda"},
		Final:      "let's go over the agenda for today",
		Confidence: 0.94,
	},
	{
		Interims:   []string{"the quarterly", "the quarterly numbers look"},
		Final:      "the quarterly numbers look good",
		Confidence: 0.97,
	},
	{
		Interims:   []string{"can we", "can we revisit", "can we revisit the budget"},
		Final:      "can we revisit the budget next week",
		Confidence: 0.91,
	},
	{
		Interims:   []string{"I'll follow", "I'll follow up with"},
		Final:      "I'll follow up with the design team",
		Confidence: 0.89,
	},
}

// Provider implements stt.Provider with scripted responses. One interim
// is emitted per audio send; when an utterance's interims are exhausted
// the final is emitted and the script advances.
type Provider struct {
	mu          sync.Mutex
	utterances  []Utterance
	utterIdx    int
	interimIdx  int
	streaming   bool
	initialized bool
	closed      bool
	listener    stt.Listener
	opts        stt.StreamOptions

	// emitDelay simulates provider latency. Zero emits synchronously,
	// which the tests rely on.
	emitDelay time.Duration

	utteranceStart time.Duration
	audioOffset    time.Duration
}

// New creates a mock provider with the default script and realistic
// emission latency.
func New() *Provider {
	return &Provider{
		utterances: DefaultUtterances,
		emitDelay:  30 * time.Millisecond,
	}
}

// NewScripted creates a mock provider with a custom script. Segments
// are emitted synchronously from SendAudio.
func NewScripted(utterances []Utterance) *Provider {
	return &Provider{utterances: utterances}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock" }

// SupportedLanguages implements stt.Provider.
func (p *Provider) SupportedLanguages() []string { return []string{"en-US", "ja-JP"} }

// SupportedModels implements stt.Provider.
func (p *Provider) SupportedModels() []string { return []string{"default"} }

// Initialize implements stt.Provider.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

// StartStreaming implements stt.Provider.
func (p *Provider) StartStreaming(ctx context.Context, opts stt.StreamOptions, l stt.Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return stterror.New(stterror.TypeInitialization, p.Name(), "startStreaming", "provider not initialized")
	}
	if p.streaming {
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "startStreaming", "already streaming")
	}
	p.streaming = true
	p.listener = l
	p.opts = opts
	p.audioOffset = 0
	p.utteranceStart = 0
	return nil
}

// StopStreaming implements stt.Provider.
func (p *Provider) StopStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	p.listener = nil
	return nil
}

// SendAudio advances the script: one interim per call until the current
// utterance is exhausted, then the final.
func (p *Provider) SendAudio(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "sendAudio", "provider closed")
	}
	if !p.streaming {
		p.mu.Unlock()
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "sendAudio", "not streaming")
	}

	rate := p.opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	ch := p.opts.Channels
	if ch <= 0 {
		ch = 1
	}
	p.audioOffset += time.Duration(float64(len(audio)) / float64(rate*ch*2) * float64(time.Second))

	if p.utterIdx >= len(p.utterances) {
		p.utterIdx = 0
	}
	utt := p.utterances[p.utterIdx]

	var seg models.TranscriptSegment
	if p.interimIdx < len(utt.Interims) {
		seg = p.segmentLocked(utt.Interims[p.interimIdx], utt.Confidence, false)
		p.interimIdx++
	} else {
		seg = p.segmentLocked(utt.Final, utt.Confidence, true)
		p.utterIdx++
		p.interimIdx = 0
		p.utteranceStart = p.audioOffset
	}
	l := p.listener
	delay := p.emitDelay
	p.mu.Unlock()

	if l == nil {
		return nil
	}
	if delay == 0 {
		l.OnSegment(seg)
		return nil
	}
	go func() {
		time.Sleep(delay)
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			l.OnSegment(seg)
		}
	}()
	return nil
}

func (p *Provider) segmentLocked(text string, confidence float64, final bool) models.TranscriptSegment {
	lang := p.opts.Language
	if lang == "" {
		lang = "en-US"
	}
	return models.TranscriptSegment{
		ID:         uuid.NewString(),
		StartTime:  p.utteranceStart,
		EndTime:    p.audioOffset,
		Text:       text,
		Confidence: confidence,
		IsFinal:    final,
		Language:   lang,
		Timestamp:  time.Now(),
	}
}

// TranscribeFile returns the full script as final segments.
func (p *Provider) TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, stterror.New(stterror.TypeInitialization, p.Name(), "transcribeFile", "provider not initialized")
	}

	segs := make([]models.TranscriptSegment, 0, len(p.utterances))
	offset := time.Duration(0)
	for _, utt := range p.utterances {
		end := offset + 2*time.Second
		segs = append(segs, models.TranscriptSegment{
			ID:         uuid.NewString(),
			StartTime:  offset,
			EndTime:    end,
			Text:       utt.Final,
			Confidence: utt.Confidence,
			IsFinal:    true,
			Language:   "en-US",
			Timestamp:  time.Now(),
		})
		offset = end + 500*time.Millisecond
	}
	return segs, nil
}

// Close implements stt.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.streaming = false
	p.listener = nil
	return nil
}
