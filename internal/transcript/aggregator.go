// Package transcript aggregates raw STT segments into merged,
// speaker-attributed transcript snapshots emitted on a batch interval.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/metrics"
)

// speakerChangeGap is the silence gap above which an unattributed
// segment is assigned to a new speaker.
const speakerChangeGap = time.Second

// historyCapacity bounds the retained batch history.
const historyCapacity = 50

// speakerColors is the palette cycled through as speakers appear.
var speakerColors = []string{
	"#4F86C6", "#E07A5F", "#81B29A", "#F2CC8F", "#9A8FBA", "#D08CA8",
}

// State is the aggregator lifecycle state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// BatchFunc receives each emitted snapshot.
type BatchFunc func(*models.AggregatedTranscript)

// SegmentFunc receives each segment that passed the filters.
type SegmentFunc func(models.TranscriptSegment)

// Aggregator accumulates segments for one session at a time and emits
// merged snapshots on a timer. All methods are safe for concurrent use.
type Aggregator struct {
	cfg     config.AggregationConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	sessionID string
	segments  []models.TranscriptSegment
	speakers  map[string]*models.Speaker

	// speakerSeq numbers heuristically detected speakers.
	speakerSeq int

	// dirty marks that segments changed since the last emitted batch.
	dirty bool

	history []*models.AggregatedTranscript

	onBatch   BatchFunc
	onSegment SegmentFunc

	stop chan struct{}
	done chan struct{}
}

// New creates an idle aggregator.
func New(cfg config.AggregationConfig) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		log:      logging.WithComponent("aggregator"),
		metrics:  metrics.DefaultMetrics,
		state:    StateIdle,
		speakers: make(map[string]*models.Speaker),
	}
}

// OnBatch registers the snapshot callback. It is invoked without the
// aggregator lock held.
func (a *Aggregator) OnBatch(fn BatchFunc) { a.onBatch = fn }

// OnSegment registers the accepted-segment callback.
func (a *Aggregator) OnSegment(fn SegmentFunc) { a.onSegment = fn }

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SessionID returns the active session ID, or empty when idle.
func (a *Aggregator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// StartSession transitions Idle to Active and starts the batch and
// cleanup timers.
func (a *Aggregator) StartSession(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateActive {
		return fmt.Errorf("aggregation session %s already active", a.sessionID)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a.state = StateActive
	a.sessionID = sessionID
	a.segments = nil
	a.speakers = make(map[string]*models.Speaker)
	a.speakerSeq = 0
	a.dirty = false
	a.stop = make(chan struct{})
	a.done = make(chan struct{})

	go a.loop(a.stop, a.done)

	a.log.Info().Str("sessionId", sessionID).Msg("Aggregation session started")
	return nil
}

// StopSession flushes the final snapshot, stops the timers and returns
// to Idle. The final snapshot is returned and also delivered to the
// batch callback; it is nil when no segments were accepted.
func (a *Aggregator) StopSession() (*models.AggregatedTranscript, error) {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return nil, fmt.Errorf("no active aggregation session")
	}
	stop := a.stop
	done := a.done
	a.mu.Unlock()

	close(stop)
	<-done

	a.mu.Lock()
	var final *models.AggregatedTranscript
	if len(a.segments) > 0 {
		final = a.snapshotLocked(true)
		a.pushHistoryLocked(final)
	}
	sessionID := a.sessionID
	a.state = StateIdle
	a.sessionID = ""
	a.stop = nil
	a.done = nil
	onBatch := a.onBatch
	a.mu.Unlock()

	if final != nil && onBatch != nil {
		onBatch(final)
	}
	a.log.Info().Str("sessionId", sessionID).Msg("Aggregation session stopped")
	return final, nil
}

// loop drives the batch and cleanup timers until the session stops.
func (a *Aggregator) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	batch := time.NewTicker(a.cfg.BatchInterval)
	defer batch.Stop()

	cleanupInterval := a.cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-stop:
			return
		case <-batch.C:
			a.emitBatch()
		case <-cleanup.C:
			if a.cfg.EnableAutoCleanup {
				a.cleanup()
			}
		}
	}
}

// AddSegment filters, attributes and stores one segment. Rejected
// segments are counted by drop reason and never surface downstream.
func (a *Aggregator) AddSegment(seg models.TranscriptSegment) error {
	a.mu.Lock()

	if a.state != StateActive {
		a.mu.Unlock()
		return fmt.Errorf("no active aggregation session")
	}

	seg.Text = CleanText(seg.Text)
	if seg.Text == "" {
		a.mu.Unlock()
		a.metrics.RecordSegmentDropped("empty")
		return nil
	}
	if seg.Confidence < a.cfg.ConfidenceThreshold {
		a.mu.Unlock()
		a.metrics.RecordSegmentDropped("low_confidence")
		return nil
	}
	if seg.Span() > 0 && seg.Span() < a.cfg.MinSegmentDuration {
		a.mu.Unlock()
		a.metrics.RecordSegmentDropped("too_short")
		return nil
	}
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now()
	}

	if a.cfg.EnableSpeakerSeparation {
		a.attributeLocked(&seg)
	}

	// An interim revises the trailing interim instead of stacking up
	// next to it. A final replaces the trailing interim it refines.
	if n := len(a.segments); n > 0 && !a.segments[n-1].IsFinal {
		a.segments[n-1] = seg
	} else {
		a.segments = append(a.segments, seg)
	}
	a.dirty = true
	// Interims revise in place, so running speaker totals accrue only
	// on finals; counting interims would multiply-count the same
	// utterance.
	if seg.IsFinal {
		a.recordSpeakerLocked(seg)
	}

	onSegment := a.onSegment
	a.mu.Unlock()

	a.metrics.RecordSegment(seg.IsFinal)
	if onSegment != nil {
		onSegment(seg)
	}
	return nil
}

// attributeLocked assigns a speaker to an unattributed segment: a short
// gap from the previous segment inherits its speaker, a long gap starts
// a new one.
func (a *Aggregator) attributeLocked(seg *models.TranscriptSegment) {
	if seg.Speaker != "" {
		return
	}
	if n := len(a.segments); n > 0 {
		prev := a.segments[n-1]
		if prev.Speaker != "" && seg.StartTime-prev.EndTime < speakerChangeGap {
			seg.Speaker = prev.Speaker
			return
		}
	}
	a.speakerSeq++
	seg.Speaker = fmt.Sprintf("speaker_%d", a.speakerSeq)
}

// recordSpeakerLocked updates cumulative speaker statistics.
func (a *Aggregator) recordSpeakerLocked(seg models.TranscriptSegment) {
	if seg.Speaker == "" {
		return
	}
	sp, ok := a.speakers[seg.Speaker]
	if !ok {
		sp = &models.Speaker{
			ID:    seg.Speaker,
			Name:  seg.Speaker,
			Color: speakerColors[len(a.speakers)%len(speakerColors)],
		}
		a.speakers[seg.Speaker] = sp
		a.metrics.SpeakersDetected.Set(float64(len(a.speakers)))
	}
	total := sp.AvgConfidence*float64(sp.SegmentCount) + seg.Confidence
	sp.SegmentCount++
	sp.AvgConfidence = total / float64(sp.SegmentCount)
	sp.TotalDuration += seg.Span()
}

// emitBatch publishes a snapshot when segments changed since the last
// one.
func (a *Aggregator) emitBatch() {
	a.mu.Lock()
	if a.state != StateActive || !a.dirty || len(a.segments) == 0 {
		a.mu.Unlock()
		return
	}
	a.dirty = false
	snap := a.snapshotLocked(false)
	a.pushHistoryLocked(snap)
	onBatch := a.onBatch
	a.mu.Unlock()

	a.metrics.BatchesEmitted.Inc()
	if onBatch != nil {
		onBatch(snap)
	}
}

// snapshotLocked builds an immutable aggregated view of the current
// segments.
func (a *Aggregator) snapshotLocked(final bool) *models.AggregatedTranscript {
	merged := MergeSegments(a.segments, a.cfg.MaxSegmentGap)

	var (
		duration   time.Duration
		words      int
		confidence float64
		langs      []string
		seen       = map[string]bool{}
	)
	for _, s := range merged {
		if s.EndTime > duration {
			duration = s.EndTime
		}
		words += len(strings.Fields(s.Text))
		confidence += s.Confidence
		if s.Language != "" && !seen[s.Language] {
			seen[s.Language] = true
			langs = append(langs, s.Language)
		}
	}
	if len(merged) > 0 {
		confidence /= float64(len(merged))
	}

	return &models.AggregatedTranscript{
		ID:            uuid.NewString(),
		SessionID:     a.sessionID,
		Segments:      merged,
		Duration:      duration,
		SpeakerCount:  len(a.speakers),
		WordCount:     words,
		AvgConfidence: confidence,
		Languages:     langs,
		Final:         final,
		CreatedAt:     time.Now(),
	}
}

func (a *Aggregator) pushHistoryLocked(t *models.AggregatedTranscript) {
	a.history = append(a.history, t)
	if len(a.history) > historyCapacity {
		a.history = a.history[len(a.history)-historyCapacity:]
	}
}

// cleanup trims the in-memory segment list to the configured bound,
// discarding the oldest segments first.
func (a *Aggregator) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateActive {
		return
	}
	if over := len(a.segments) - a.cfg.MaxSegmentsInMemory; over > 0 {
		a.segments = append([]models.TranscriptSegment(nil), a.segments[over:]...)
		a.log.Debug().Int("trimmed", over).Msg("Trimmed oldest segments to memory bound")
	}
}

// Segments returns a copy of the current raw segment list.
func (a *Aggregator) Segments() []models.TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TranscriptSegment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Speakers returns a copy of the per-speaker statistics.
func (a *Aggregator) Speakers() []models.Speaker {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Speaker, 0, len(a.speakers))
	for _, sp := range a.speakers {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the retained batch snapshots, oldest first.
func (a *Aggregator) History() []*models.AggregatedTranscript {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*models.AggregatedTranscript, len(a.history))
	copy(out, a.history)
	return out
}

// Latest returns the most recent snapshot, or nil when none exists.
func (a *Aggregator) Latest() *models.AggregatedTranscript {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return nil
	}
	return a.history[len(a.history)-1]
}

// MergeSegments coalesces adjacent segments from the same speaker whose
// gap does not exceed maxGap. Merged text is joined with a space,
// confidence is averaged and the result is final only when every input
// was. The input is not modified.
func MergeSegments(segments []models.TranscriptSegment, maxGap time.Duration) []models.TranscriptSegment {
	if len(segments) == 0 {
		return nil
	}

	sorted := make([]models.TranscriptSegment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime < sorted[j].StartTime
	})

	out := make([]models.TranscriptSegment, 0, len(sorted))
	cur := sorted[0]
	curCount := 1
	curTotal := cur.Confidence

	for _, s := range sorted[1:] {
		if s.Speaker == cur.Speaker && s.StartTime-cur.EndTime <= maxGap {
			cur.Text = cur.Text + " " + s.Text
			if s.EndTime > cur.EndTime {
				cur.EndTime = s.EndTime
			}
			cur.IsFinal = cur.IsFinal && s.IsFinal
			curTotal += s.Confidence
			curCount++
			continue
		}
		cur.Confidence = curTotal / float64(curCount)
		out = append(out, cur)
		cur = s
		curCount = 1
		curTotal = s.Confidence
	}
	cur.Confidence = curTotal / float64(curCount)
	out = append(out, cur)
	return out
}

// fullWidthReplacer normalizes full-width punctuation produced by some
// recognizers for Japanese audio.
var fullWidthReplacer = strings.NewReplacer(
	"　", " ", // ideographic space
	"。", ". ",
	"、", ", ",
	"！", "! ",
	"？", "? ",
)

// CleanText normalizes recognizer text: full-width punctuation is
// replaced, interior whitespace runs collapse to one space and the
// result is trimmed.
func CleanText(s string) string {
	s = fullWidthReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
