// Package whisper provides a local subprocess STT provider that shells
// out to a whisper.cpp style binary. Streaming is emulated by flushing
// buffered audio through the binary at a fixed interval.
package whisper

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/audio"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

const (
	// flushInterval is how often buffered stream audio is run through
	// the binary.
	flushInterval = 5 * time.Second

	// maxPendingBytes bounds the stream buffer; oldest audio is
	// discarded first.
	maxPendingBytes = 10 * 1024 * 1024

	runTimeout = 2 * time.Minute

	// The binary reports no per-segment confidence.
	fixedConfidence = 1.0
)

// Provider implements stt.Provider by invoking a transcription binary
// on WAV files.
type Provider struct {
	cfg config.ProviderConfig
	log zerolog.Logger

	mu          sync.Mutex
	initialized bool
	streaming   bool
	listener    stt.Listener
	opts        stt.StreamOptions
	pending     []byte

	// flushedOffset anchors segment times across successive flushes.
	flushedOffset time.Duration

	stopFlush chan struct{}
	flushDone chan struct{}
}

// New creates a whisper provider. Initialize must be called before any
// other operation.
func New(cfg config.ProviderConfig) *Provider {
	return &Provider{
		cfg: cfg,
		log: logging.WithComponent("stt.whisper"),
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// SupportedLanguages implements stt.Provider.
func (p *Provider) SupportedLanguages() []string {
	return []string{"auto", "en", "ja", "de", "fr", "es", "it", "zh", "ko"}
}

// SupportedModels implements stt.Provider.
func (p *Provider) SupportedModels() []string {
	return []string{"tiny", "base", "small", "medium", "large-v3"}
}

// Initialize verifies the binary is on the path and the model file, if
// configured, exists.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bin := p.cfg.BinaryPath
	if bin == "" {
		return stterror.New(stterror.TypeInitialization, p.Name(), "initialize", "binary path is not configured")
	}
	if _, err := exec.LookPath(bin); err != nil {
		return stterror.Wrap(stterror.TypeInitialization, p.Name(), "initialize", err)
	}
	if p.cfg.ModelPath != "" {
		if _, err := os.Stat(p.cfg.ModelPath); err != nil {
			return stterror.Wrap(stterror.TypeInitialization, p.Name(), "initialize", err)
		}
	}
	p.initialized = true
	return nil
}

// StartStreaming begins buffering audio and starts the periodic flush
// loop.
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
	p.pending = nil
	p.flushedOffset = 0
	p.stopFlush = make(chan struct{})
	p.flushDone = make(chan struct{})

	go p.flushLoop(p.stopFlush, p.flushDone)
	return nil
}

func (p *Provider) flushLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.flush(); err != nil {
				p.mu.Lock()
				l := p.listener
				p.mu.Unlock()
				if l != nil {
					// Dispatched off the loop goroutine so an error
					// handler may call StopStreaming, which waits for
					// this loop to exit.
					go l.OnError(err)
				}
			}
		}
	}
}

// SendAudio buffers PCM bytes for the next flush.
func (p *Provider) SendAudio(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.streaming {
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "sendAudio", "not streaming")
	}
	p.pending = append(p.pending, data...)
	if over := len(p.pending) - maxPendingBytes; over > 0 {
		p.pending = p.pending[over:]
		p.log.Warn().Int("droppedBytes", over).Msg("Stream buffer full, oldest audio dropped")
	}
	return nil
}

// flush runs the buffered audio through the binary and forwards the
// resulting segments, shifted by the running stream offset.
func (p *Provider) flush() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	l := p.listener
	opts := p.opts
	base := p.flushedOffset
	p.mu.Unlock()

	if len(pending) == 0 || l == nil {
		return nil
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = p.cfg.SampleRate
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = p.cfg.Channels
	}
	flushedDur := time.Duration(float64(len(pending)) / float64(rate*ch*2) * float64(time.Second))

	wav, err := audio.EncodeWAV(pending, rate, ch)
	if err != nil {
		return stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "flush", err)
	}

	tmp, err := os.CreateTemp("", "whisper-*.wav")
	if err != nil {
		return stterror.Wrap(stterror.TypeProvider, p.Name(), "flush", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(wav); err != nil {
		tmp.Close()
		return stterror.Wrap(stterror.TypeProvider, p.Name(), "flush", err)
	}
	tmp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	segs, err := p.run(ctx, tmp.Name(), opts.Language)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.flushedOffset = base + flushedDur
	p.mu.Unlock()

	for _, s := range segs {
		s.StartTime += base
		s.EndTime += base
		l.OnSegment(s)
	}
	return nil
}

// StopStreaming stops the flush loop and flushes the remaining audio.
func (p *Provider) StopStreaming() error {
	p.mu.Lock()
	if !p.streaming {
		p.mu.Unlock()
		return nil
	}
	stop := p.stopFlush
	done := p.flushDone
	p.mu.Unlock()

	close(stop)
	<-done

	err := p.flush()

	p.mu.Lock()
	p.streaming = false
	p.listener = nil
	p.stopFlush = nil
	p.flushDone = nil
	p.mu.Unlock()
	return err
}

// TranscribeFile runs the binary on an existing audio file.
func (p *Provider) TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return nil, stterror.New(stterror.TypeInitialization, p.Name(), "transcribeFile", "provider not initialized")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "transcribeFile", err)
	}
	return p.run(ctx, path, p.cfg.Language)
}

// run invokes the binary on one WAV file and parses its output. JSON
// output is preferred; the SRT file is the fallback for builds without
// JSON support.
func (p *Provider) run(ctx context.Context, wavPath, language string) ([]models.TranscriptSegment, error) {
	outDir, err := os.MkdirTemp("", "whisper-out-")
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeProvider, p.Name(), "run", err)
	}
	defer os.RemoveAll(outDir)
	outPrefix := filepath.Join(outDir, "result")

	if language == "" {
		language = p.cfg.Language
	}
	args := []string{"-f", wavPath, "-oj", "-osrt", "-of", outPrefix}
	if p.cfg.ModelPath != "" {
		args = append(args, "-m", p.cfg.ModelPath)
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	cmd := exec.CommandContext(ctx, p.cfg.BinaryPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, stterror.Wrap(stterror.TypeTimeout, p.Name(), "run", ctx.Err())
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		p.log.Error().Err(err).Str("output", msg).Msg("Transcription binary failed")
		return nil, stterror.Wrap(stterror.TypeProvider, p.Name(), "run", err)
	}

	if data, err := os.ReadFile(outPrefix + ".json"); err == nil {
		if segs, err := parseWhisperJSON(data, language); err == nil {
			return p.stamp(segs), nil
		}
	}
	if data, err := os.ReadFile(outPrefix + ".srt"); err == nil {
		segs, err := parseSRT(string(data), language)
		if err != nil {
			return nil, stterror.Wrap(stterror.TypeProvider, p.Name(), "run", err)
		}
		return p.stamp(segs), nil
	}
	return nil, stterror.New(stterror.TypeProvider, p.Name(), "run", "binary produced no parseable output")
}

// stamp assigns IDs and wall-clock timestamps to parsed segments.
func (p *Provider) stamp(segs []models.TranscriptSegment) []models.TranscriptSegment {
	now := time.Now()
	for i := range segs {
		segs[i].ID = uuid.NewString()
		segs[i].Timestamp = now
	}
	return segs
}

// Close stops any active stream.
func (p *Provider) Close() error {
	return p.StopStreaming()
}
