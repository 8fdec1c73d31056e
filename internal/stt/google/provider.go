// Package google provides the cloud streaming STT provider backed by
// Google Cloud Speech-to-Text.
package google

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

const credentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"

// Provider implements stt.Provider using Google Cloud Speech-to-Text
// streaming recognition.
type Provider struct {
	cfg config.ProviderConfig
	log zerolog.Logger

	mu        sync.Mutex
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	listener  stt.Listener
	streaming bool

	// lastFinalEnd anchors the start time of the next result window.
	lastFinalEnd time.Duration
}

// New creates a Google STT provider. Initialize must be called before
// any other operation.
func New(cfg config.ProviderConfig) *Provider {
	return &Provider{
		cfg: cfg,
		log: logging.WithComponent("stt.google"),
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "google" }

// SupportedLanguages implements stt.Provider.
func (p *Provider) SupportedLanguages() []string {
	return []string{"en-US", "en-GB", "ja-JP", "de-DE", "fr-FR", "es-ES"}
}

// SupportedModels implements stt.Provider.
func (p *Provider) SupportedModels() []string {
	return []string{"default", "latest_long", "latest_short", "telephony"}
}

// Initialize creates the API client. Fails when application
// credentials are not configured.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}
	if os.Getenv(credentialsEnv) == "" {
		return stterror.New(stterror.TypeInitialization, p.Name(), "initialize",
			fmt.Sprintf("%s is not set", credentialsEnv))
	}

	c, err := speech.NewClient(ctx)
	if err != nil {
		return stterror.Wrap(stterror.TypeInitialization, p.Name(), "initialize", err)
	}
	p.client = c
	p.log.Info().Msg("Google Speech client initialized")
	return nil
}

// StartStreaming opens a streaming recognition session and starts the
// receive loop.
func (p *Provider) StartStreaming(ctx context.Context, opts stt.StreamOptions, l stt.Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return stterror.New(stterror.TypeInitialization, p.Name(), "startStreaming", "provider not initialized")
	}
	if p.streaming {
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "startStreaming", "already streaming")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return stterror.Classify(err, p.Name(), "startStreaming")
	}

	lang := opts.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = p.cfg.SampleRate
	}

	// The streaming config must be the first message on the stream.
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(rate),
					LanguageCode:    lang,
					Model:           opts.Model,
				},
				InterimResults: opts.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return stterror.Classify(err, p.Name(), "startStreaming")
	}

	p.stream = stream
	p.cancel = cancel
	p.listener = l
	p.streaming = true
	p.lastFinalEnd = 0

	go p.listen(stream, l, lang)
	return nil
}

// listen receives responses until the stream ends and forwards segments
// to the listener.
func (p *Provider) listen(stream speechpb.Speech_StreamingRecognizeClient, l stt.Listener, lang string) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			p.mu.Lock()
			active := p.streaming && p.stream == stream
			p.mu.Unlock()
			if active {
				l.OnError(stterror.Classify(err, p.Name(), "stream"))
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]

			end := r.ResultEndTime.AsDuration()
			p.mu.Lock()
			start := p.lastFinalEnd
			if r.IsFinal {
				p.lastFinalEnd = end
			}
			p.mu.Unlock()

			language := r.LanguageCode
			if language == "" {
				language = lang
			}

			l.OnSegment(models.TranscriptSegment{
				ID:         uuid.NewString(),
				StartTime:  start,
				EndTime:    end,
				Text:       alt.Transcript,
				Confidence: float64(alt.Confidence),
				IsFinal:    r.IsFinal,
				Language:   language,
				Timestamp:  time.Now(),
			})
		}
	}
}

// SendAudio forwards PCM bytes to the active stream.
func (p *Provider) SendAudio(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	stream := p.stream
	streaming := p.streaming
	p.mu.Unlock()

	if !streaming || stream == nil {
		return stterror.New(stterror.TypeInvalidRequest, p.Name(), "sendAudio", "not streaming")
	}

	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return stterror.Classify(err, p.Name(), "sendAudio")
	}
	return nil
}

// StopStreaming half-closes the stream and stops the receive loop.
func (p *Provider) StopStreaming() error {
	p.mu.Lock()
	stream := p.stream
	cancel := p.cancel
	p.stream = nil
	p.cancel = nil
	p.listener = nil
	p.streaming = false
	p.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			if cancel != nil {
				cancel()
			}
			return stterror.Classify(err, p.Name(), "stopStreaming")
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// TranscribeFile performs a synchronous recognition of a complete file.
func (p *Provider) TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return nil, stterror.New(stterror.TypeInitialization, p.Name(), "transcribeFile", "provider not initialized")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stterror.Wrap(stterror.TypeInvalidRequest, p.Name(), "transcribeFile", err)
	}

	lang := p.cfg.Language
	if lang == "" {
		lang = "en-US"
	}
	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(p.cfg.SampleRate),
			LanguageCode:    lang,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	})
	if err != nil {
		return nil, stterror.Classify(err, p.Name(), "transcribeFile")
	}

	var segs []models.TranscriptSegment
	var offset time.Duration
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		end := r.ResultEndTime.AsDuration()
		segs = append(segs, models.TranscriptSegment{
			ID:         uuid.NewString(),
			StartTime:  offset,
			EndTime:    end,
			Text:       alt.Transcript,
			Confidence: float64(alt.Confidence),
			IsFinal:    true,
			Language:   lang,
			Timestamp:  time.Now(),
		})
		offset = end
	}
	return segs, nil
}

// Close releases the API client.
func (p *Provider) Close() error {
	_ = p.StopStreaming()

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}
