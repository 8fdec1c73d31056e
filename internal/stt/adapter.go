// Package stt defines the capability interface for speech-to-text
// providers.
package stt

import (
	"context"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
)

// Listener receives asynchronous results from a provider. Providers
// call these from their own goroutines and must never panic through
// them; implementations must not block.
type Listener interface {
	// OnSegment is called for every transcript segment, interim
	// (IsFinal=false) and final (IsFinal=true).
	OnSegment(seg models.TranscriptSegment)

	// OnError is called when a transport failure occurs mid-stream.
	OnError(err error)
}

// StreamOptions configures a streaming session.
type StreamOptions struct {
	Language       string
	SampleRate     int
	Channels       int
	Model          string
	InterimResults bool
}

// Provider is the capability set every STT backend implements: cloud
// streaming providers, cloud upload/poll providers, and local
// subprocess providers all satisfy the same interface. No shared state
// beyond configuration is assumed between variants.
type Provider interface {
	// Initialize prepares the provider. It fails with an
	// initialization error if required credentials or binaries are
	// absent.
	Initialize(ctx context.Context) error

	// StartStreaming begins a streaming session delivering segments to
	// the listener. Fails with an invalid-request error if already
	// streaming.
	StartStreaming(ctx context.Context, opts StreamOptions, l Listener) error

	// StopStreaming ends the streaming session. Safe to call when not
	// streaming.
	StopStreaming() error

	// SendAudio forwards raw PCM bytes to the active stream. Fails
	// with an invalid-request error while not streaming.
	SendAudio(ctx context.Context, audio []byte) error

	// TranscribeFile transcribes a complete audio file.
	TranscribeFile(ctx context.Context, path string) ([]models.TranscriptSegment, error)

	// SupportedLanguages lists languages the provider accepts.
	SupportedLanguages() []string

	// SupportedModels lists models the provider accepts.
	SupportedModels() []string

	// Name returns the provider identifier used in config, metrics,
	// and failover policy.
	Name() string

	// Close releases all provider resources.
	Close() error
}
