// Package upload provides the cloud file-upload STT provider: audio is
// posted as a multipart upload and the transcription job is polled
// until it completes. Streaming is emulated by buffering audio and
// flushing it as one file when the stream stops.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
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
	// maxPendingBytes bounds the streaming emulation buffer; oldest
	// audio is discarded first, matching the ring buffer policy.
	maxPendingBytes = 10 * 1024 * 1024

	pollInterval = time.Second
	pollTimeout  = 2 * time.Minute
)

// jobResponse is the transcription job payload returned by the API.
type jobResponse struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"` // processing, done, error
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Error    string  `json:"error,omitempty"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Speaker    string  `json:"speaker,omitempty"`
	} `json:"segments"`
}

// Provider implements stt.Provider over an upload-and-poll HTTP API.
type Provider struct {
	cfg    config.ProviderConfig
	client *http.Client
	log    zerolog.Logger

	mu          sync.Mutex
	initialized bool
	streaming   bool
	listener    stt.Listener
	opts        stt.StreamOptions
	pending     []byte
	dropped     uint64
}

// New creates an upload provider. Initialize must be called before any
// other operation.
func New(cfg config.ProviderConfig) *Provider {
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: logging.WithComponent("stt.upload"),
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "voxtral" }

// SupportedLanguages implements stt.Provider.
func (p *Provider) SupportedLanguages() []string {
	return []string{"en", "ja", "de", "fr", "es", "it"}
}

// SupportedModels implements stt.Provider.
func (p *Provider) SupportedModels() []string {
	return []string{"voxtral-mini-latest", "voxtral-small-latest"}
}

// Initialize verifies credentials and endpoint configuration.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.APIKey == "" {
		return stterror.New(stterror.TypeInitialization, p.Name(), "initialize", "api key is not configured")
	}
	if p.cfg.Endpoint == "" {
		return stterror.New(stterror.TypeInitialization, p.Name(), "initialize", "endpoint is not configured")
	}
	p.initialized = true
	return nil
}

// StartStreaming begins buffering audio for a deferred upload.
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
	p.dropped = 0
	return nil
}

// SendAudio buffers PCM bytes for the deferred upload, discarding the
// oldest bytes when the buffer bound is reached.
func (p *Provider) SendAudio(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.streaming {
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "sendAudio", "not streaming")
	}
	p.pending = append(p.pending, data...)
	if over := len(p.pending) - maxPendingBytes; over > 0 {
		p.pending = p.pending[over:]
		p.dropped += uint64(over)
	}
	return nil
}

// StopStreaming flushes the buffered audio through the upload API and
// delivers the resulting segments to the listener.
func (p *Provider) StopStreaming() error {
	p.mu.Lock()
	if !p.streaming {
		p.mu.Unlock()
		return nil
	}
	p.streaming = false
	pending := p.pending
	p.pending = nil
	l := p.listener
	p.listener = nil
	opts := p.opts
	dropped := p.dropped
	p.mu.Unlock()

	if len(pending) == 0 || l == nil {
		return nil
	}
	if dropped > 0 {
		p.log.Warn().Uint64("droppedBytes", dropped).Msg("Buffered audio exceeded bound, oldest bytes dropped")
	}

	wav, err := audio.EncodeWAV(pending, opts.SampleRate, opts.Channels)
	if err != nil {
		return stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "stopStreaming", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	segs, err := p.transcribe(ctx, "stream.wav", bytes.NewReader(wav))
	if err != nil {
		l.OnError(err)
		return err
	}
	for _, s := range segs {
		l.OnSegment(s)
	}
	return nil
}

// TranscribeFile uploads an audio file and polls for the result.
func (p *Provider) TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return nil, stterror.New(stterror.TypeInitialization, p.Name(), "transcribeFile", "provider not initialized")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "transcribeFile", err)
	}
	defer f.Close()

	return p.transcribe(ctx, filepath.Base(path), f)
}

func (p *Provider) transcribe(ctx context.Context, filename string, r io.Reader) ([]models.TranscriptSegment, error) {
	job, err := p.upload(ctx, filename, r)
	if err != nil {
		return nil, err
	}

	for job.Status == "processing" {
		select {
		case <-ctx.Done():
			return nil, stterror.Wrap(stterror.TypeTimeout, p.Name(), "poll", ctx.Err())
		case <-time.After(pollInterval):
		}
		job, err = p.poll(ctx, job.ID)
		if err != nil {
			return nil, err
		}
	}
	if job.Status == "error" {
		return nil, stterror.New(stterror.TypeProvider, p.Name(), "poll", job.Error)
	}
	return p.toSegments(job), nil
}

func (p *Provider) upload(ctx context.Context, filename string, r io.Reader) (*jobResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	model := p.cfg.Model
	if model == "" {
		model = "voxtral-mini-latest"
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}
	if p.cfg.Language != "" {
		if err := writer.WriteField("language", p.cfg.Language); err != nil {
			return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
		}
	}
	if err := writer.WriteField("diarize", "true"); err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.Endpoint+"/v1/audio/transcriptions", body)
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "upload", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	return p.doJSON(req, "upload")
}

func (p *Provider) poll(ctx context.Context, jobID string) (*jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/audio/transcriptions/%s", p.cfg.Endpoint, jobID), nil)
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "poll", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	return p.doJSON(req, "poll")
}

func (p *Provider) doJSON(req *http.Request, op string) (*jobResponse, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, stterror.Classify(err, p.Name(), op)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, stterror.New(stterror.TypeAuthentication, p.Name(), op, msg)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, stterror.New(stterror.TypeRateLimit, p.Name(), op, msg)
		case resp.StatusCode == http.StatusPaymentRequired:
			return nil, stterror.New(stterror.TypeQuotaExceeded, p.Name(), op, msg)
		case resp.StatusCode >= 500:
			return nil, stterror.New(stterror.TypeProvider, p.Name(), op, msg)
		default:
			return nil, stterror.New(stterror.TypeInvalidRequest, p.Name(), op, msg)
		}
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, stterror.Wrap(stterror.TypeProvider, p.Name(), op, err)
	}
	return &job, nil
}

func (p *Provider) toSegments(job *jobResponse) []models.TranscriptSegment {
	lang := job.Language
	if lang == "" {
		lang = p.cfg.Language
	}

	// A plain-text result with no segment list becomes one segment.
	if len(job.Segments) == 0 {
		if job.Text == "" {
			return nil
		}
		return []models.TranscriptSegment{{
			ID:         uuid.NewString(),
			Text:       job.Text,
			Confidence: 1.0,
			IsFinal:    true,
			Language:   lang,
			Timestamp:  time.Now(),
		}}
	}

	segs := make([]models.TranscriptSegment, 0, len(job.Segments))
	for _, s := range job.Segments {
		segs = append(segs, models.TranscriptSegment{
			ID:         uuid.NewString(),
			StartTime:  time.Duration(s.Start * float64(time.Second)),
			EndTime:    time.Duration(s.End * float64(time.Second)),
			Text:       s.Text,
			Confidence: s.Confidence,
			Speaker:    s.Speaker,
			IsFinal:    true,
			Language:   lang,
			Timestamp:  time.Now(),
		})
	}
	return segs
}

// Close implements stt.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	p.listener = nil
	p.pending = nil
	p.client.CloseIdleConnections()
	return nil
}
