// Package events defines the fixed set of pipeline event variants, an
// in-process fan-out bus, and the Kafka publisher for downstream
// consumers.
package events

import (
	"time"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

// Type names an event variant.
type Type string

const (
	TypeSessionStarted         Type = "sessionStarted"
	TypeSessionStopped         Type = "sessionStopped"
	TypeChunkReady             Type = "chunkReady"
	TypeTranscriptionResult    Type = "transcriptionResult"
	TypeTranscriptionComplete  Type = "transcriptionComplete"
	TypeSegmentAdded           Type = "segmentAdded"
	TypeBatchProcessed         Type = "batchProcessed"
	TypeProviderSwitched       Type = "providerSwitched"
	TypeProviderError          Type = "providerError"
	TypeErrorThresholdExceeded Type = "errorThresholdExceeded"
	TypeMaxRetriesExceeded     Type = "maxRetriesExceeded"
	TypeCriticalError          Type = "criticalError"
)

// Event is the closed union of pipeline events.
type Event interface {
	EventType() Type
}

// SessionStarted signals a new transcription session.
type SessionStarted struct {
	SessionID string    `json:"sessionId"`
	Provider  string    `json:"provider"`
	StartedAt time.Time `json:"startedAt"`
}

func (SessionStarted) EventType() Type { return TypeSessionStarted }

// SessionStopped signals session end and carries the final flushed
// transcript, if any segments were buffered.
type SessionStopped struct {
	SessionID string                       `json:"sessionId"`
	Final     *models.AggregatedTranscript `json:"final,omitempty"`
	StoppedAt time.Time                    `json:"stoppedAt"`
}

func (SessionStopped) EventType() Type { return TypeSessionStopped }

// ChunkReady signals that a fixed-size chunk left the ring buffer and
// entered the pipeline.
type ChunkReady struct {
	SessionID string  `json:"sessionId"`
	Size      int     `json:"size"`
	Level     float64 `json:"level"`
	Silent    bool    `json:"silent"`
}

func (ChunkReady) EventType() Type { return TypeChunkReady }

// TranscriptionResult carries one interim or final segment from the
// active provider.
type TranscriptionResult struct {
	SessionID string                   `json:"sessionId"`
	Provider  string                   `json:"provider"`
	Segment   models.TranscriptSegment `json:"segment"`
}

func (TranscriptionResult) EventType() Type { return TypeTranscriptionResult }

// TranscriptionComplete carries the full result of a file-mode
// transcription.
type TranscriptionComplete struct {
	Provider string                     `json:"provider"`
	Path     string                     `json:"path"`
	Segments []models.TranscriptSegment `json:"segments"`
}

func (TranscriptionComplete) EventType() Type { return TypeTranscriptionComplete }

// SegmentAdded signals that a segment passed the aggregator filters.
type SegmentAdded struct {
	SessionID string                   `json:"sessionId"`
	Segment   models.TranscriptSegment `json:"segment"`
}

func (SegmentAdded) EventType() Type { return TypeSegmentAdded }

// BatchProcessed carries one aggregated transcript batch.
type BatchProcessed struct {
	Batch *models.AggregatedTranscript `json:"batch"`
}

func (BatchProcessed) EventType() Type { return TypeBatchProcessed }

// ProviderSwitched signals a manual or automatic provider change.
type ProviderSwitched struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Failover bool   `json:"failover"`
}

func (ProviderSwitched) EventType() Type { return TypeProviderSwitched }

// ProviderError carries a classified provider failure.
type ProviderError struct {
	Err *stterror.STTError `json:"error"`
}

func (ProviderError) EventType() Type { return TypeProviderError }

// ErrorThresholdExceeded is the circuit-breaker-style early warning:
// the error count inside the sliding window reached the configured
// threshold.
type ErrorThresholdExceeded struct {
	Count  int           `json:"count"`
	Window time.Duration `json:"windowMs"`
}

func (ErrorThresholdExceeded) EventType() Type { return TypeErrorThresholdExceeded }

// MaxRetriesExceeded is the terminal signal for an error whose retry
// budget is exhausted.
type MaxRetriesExceeded struct {
	Err *stterror.STTError `json:"error"`
}

func (MaxRetriesExceeded) EventType() Type { return TypeMaxRetriesExceeded }

// CriticalError surfaces an error that will never be retried.
type CriticalError struct {
	Err *stterror.STTError `json:"error"`
}

func (CriticalError) EventType() Type { return TypeCriticalError }
