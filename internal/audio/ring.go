// Package audio provides the bounded ring buffer, fixed-duration chunk
// extraction, and PCM quality analysis for the capture path.
package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Chunk is a fixed-duration slice of raw PCM bytes extracted from the
// ring buffer. Immutable once emitted.
type Chunk struct {
	ID         string
	Data       []byte
	Timestamp  time.Time
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// ChunkFunc receives emitted chunks.
type ChunkFunc func(Chunk)

// ResetFunc is invoked when the buffer is cleared.
type ResetFunc func()

// RingChunker accumulates raw PCM bytes in a bounded buffer and emits
// fixed-size chunks. When an append would exceed the byte bound, the
// oldest buffered segments are evicted first; bounded memory wins over
// completeness and eviction is not an error.
type RingChunker struct {
	mu         sync.Mutex
	segments   [][]byte
	buffered   int
	maxBytes   int
	chunkSize  int
	sampleRate int
	channels   int
	chunkDur   time.Duration

	onChunk ChunkFunc
	onReset ResetFunc

	chunksEmitted uint64
	bytesEvicted  uint64
	bytesAppended uint64
}

// RingStats represents ring chunker statistics for monitoring.
type RingStats struct {
	BufferedBytes int    `json:"buffered_bytes"`
	MaxBytes      int    `json:"max_bytes"`
	ChunkSize     int    `json:"chunk_size"`
	ChunksEmitted uint64 `json:"chunks_emitted"`
	BytesEvicted  uint64 `json:"bytes_evicted"`
	BytesAppended uint64 `json:"bytes_appended"`
}

// NewRingChunker creates a ring chunker for 16-bit PCM audio. The chunk
// size is sampleRate x channels x 2 x chunkDuration, floored to a whole
// byte count.
func NewRingChunker(sampleRate, channels int, chunkDuration time.Duration, maxBytes int) *RingChunker {
	chunkSize := int(float64(sampleRate*channels*2) * chunkDuration.Seconds())
	return &RingChunker{
		maxBytes:   maxBytes,
		chunkSize:  chunkSize,
		sampleRate: sampleRate,
		channels:   channels,
		chunkDur:   chunkDuration,
	}
}

// OnChunk registers the chunk-ready callback. Must be set before the
// first Append.
func (r *RingChunker) OnChunk(fn ChunkFunc) { r.onChunk = fn }

// OnReset registers the reset callback.
func (r *RingChunker) OnReset(fn ResetFunc) { r.onReset = fn }

// ChunkSize returns the configured chunk size in bytes.
func (r *RingChunker) ChunkSize() int { return r.chunkSize }

// Buffered returns the number of bytes currently buffered.
func (r *RingChunker) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

// Append adds raw PCM bytes to the buffer, evicting oldest data if the
// bound would be exceeded, and emits as many full chunks as are now
// available. Callbacks run outside the lock.
func (r *RingChunker) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	data := make([]byte, len(p))
	copy(data, p)

	r.mu.Lock()
	r.bytesAppended += uint64(len(data))

	// Oversized appends keep only the newest maxBytes.
	if len(data) > r.maxBytes {
		r.bytesEvicted += uint64(len(data) - r.maxBytes)
		data = data[len(data)-r.maxBytes:]
	}

	// Evict oldest segments until the append fits.
	for r.buffered+len(data) > r.maxBytes && len(r.segments) > 0 {
		oldest := r.segments[0]
		r.segments = r.segments[1:]
		r.buffered -= len(oldest)
		r.bytesEvicted += uint64(len(oldest))
	}

	r.segments = append(r.segments, data)
	r.buffered += len(data)

	var chunks []Chunk
	for r.buffered >= r.chunkSize {
		chunks = append(chunks, r.extractLocked())
	}
	r.chunksEmitted += uint64(len(chunks))
	fn := r.onChunk
	r.mu.Unlock()

	if fn != nil {
		for _, c := range chunks {
			fn(c)
		}
	}
}

// extractLocked removes exactly chunkSize bytes from the front of the
// buffer, splitting a segment when the boundary falls mid-segment.
func (r *RingChunker) extractLocked() Chunk {
	data := make([]byte, 0, r.chunkSize)
	remaining := r.chunkSize

	for remaining > 0 {
		seg := r.segments[0]
		if len(seg) <= remaining {
			data = append(data, seg...)
			remaining -= len(seg)
			r.segments = r.segments[1:]
		} else {
			data = append(data, seg[:remaining]...)
			r.segments[0] = seg[remaining:]
			remaining = 0
		}
	}
	r.buffered -= r.chunkSize

	return Chunk{
		ID:         uuid.NewString(),
		Data:       data,
		Timestamp:  time.Now(),
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		Duration:   r.chunkDur,
	}
}

// Clear resets the buffer to empty and emits the reset signal.
func (r *RingChunker) Clear() {
	r.mu.Lock()
	r.segments = nil
	r.buffered = 0
	fn := r.onReset
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stats returns current ring chunker statistics.
func (r *RingChunker) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		BufferedBytes: r.buffered,
		MaxBytes:      r.maxBytes,
		ChunkSize:     r.chunkSize,
		ChunksEmitted: r.chunksEmitted,
		BytesEvicted:  r.bytesEvicted,
		BytesAppended: r.bytesAppended,
	}
}
