// Package models defines the data structures shared across the pipeline.
package models

import "time"

// TranscriptSegment is one unit of recognized text produced by an STT
// provider. Interim segments carry IsFinal=false and may be revised by a
// later segment covering the same time window.
type TranscriptSegment struct {
	ID         string        `json:"id"`
	StartTime  time.Duration `json:"startTimeMs"`
	EndTime    time.Duration `json:"endTimeMs"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Speaker    string        `json:"speaker,omitempty"`
	IsFinal    bool          `json:"isFinal"`
	Language   string        `json:"language,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Span returns the time span covered by the segment.
func (s TranscriptSegment) Span() time.Duration {
	return s.EndTime - s.StartTime
}

// Speaker tracks cumulative statistics for one attributed speaker.
// Speakers are created lazily on first attribution and never deleted
// within a session.
type Speaker struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Color         string        `json:"color"`
	SegmentCount  int           `json:"segmentCount"`
	TotalDuration time.Duration `json:"totalDurationMs"`
	AvgConfidence float64       `json:"avgConfidence"`
}

// AggregatedTranscript is an immutable snapshot of the merged transcript,
// emitted once per batch interval or at session end.
type AggregatedTranscript struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"sessionId"`
	Segments      []TranscriptSegment `json:"segments"`
	Duration      time.Duration       `json:"durationMs"`
	SpeakerCount  int                 `json:"speakerCount"`
	WordCount     int                 `json:"wordCount"`
	AvgConfidence float64             `json:"avgConfidence"`
	Languages     []string            `json:"languages,omitempty"`
	Final         bool                `json:"final"`
	CreatedAt     time.Time           `json:"createdAt"`
}
