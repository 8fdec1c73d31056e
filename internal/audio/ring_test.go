package audio

import (
	"bytes"
	"testing"
	"time"
)

// newTestChunker returns a chunker with an 8-byte chunk and a 32-byte
// bound (4 samples/sec, mono, 1s chunks).
func newTestChunker(t *testing.T) *RingChunker {
	t.Helper()
	r := NewRingChunker(4, 1, time.Second, 32)
	if r.ChunkSize() != 8 {
		t.Fatalf("expected chunk size 8, got %d", r.ChunkSize())
	}
	return r
}

func pattern(n int, start byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = start + byte(i)
	}
	return p
}

func TestRingChunker_ChunkSizeFormula(t *testing.T) {
	cases := []struct {
		rate, channels int
		dur            time.Duration
		want           int
	}{
		{16000, 1, time.Second, 32000},
		{16000, 2, time.Second, 64000},
		{44100, 1, 500 * time.Millisecond, 44100},
		{8000, 1, 250 * time.Millisecond, 4000},
	}
	for _, c := range cases {
		r := NewRingChunker(c.rate, c.channels, c.dur, 1<<20)
		if r.ChunkSize() != c.want {
			t.Errorf("rate=%d ch=%d dur=%v: expected chunk size %d, got %d",
				c.rate, c.channels, c.dur, c.want, r.ChunkSize())
		}
	}
}

func TestRingChunker_EmitsFullChunks(t *testing.T) {
	r := newTestChunker(t)

	var chunks []Chunk
	r.OnChunk(func(c Chunk) { chunks = append(chunks, c) })

	// 20 bytes = 2 full chunks + 4 byte remainder.
	r.Append(pattern(20, 0))

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, pattern(8, 0)) {
		t.Errorf("first chunk out of order: %v", chunks[0].Data)
	}
	if !bytes.Equal(chunks[1].Data, pattern(8, 8)) {
		t.Errorf("second chunk out of order: %v", chunks[1].Data)
	}
	if r.Buffered() != 4 {
		t.Errorf("expected 4 bytes buffered, got %d", r.Buffered())
	}
	if chunks[0].Duration != time.Second || chunks[0].SampleRate != 4 {
		t.Errorf("chunk metadata wrong: %+v", chunks[0])
	}
	if chunks[0].ID == "" || chunks[0].ID == chunks[1].ID {
		t.Error("chunks must carry distinct IDs")
	}
}

func TestRingChunker_SpansAppendBoundaries(t *testing.T) {
	r := newTestChunker(t)

	var chunks []Chunk
	r.OnChunk(func(c Chunk) { chunks = append(chunks, c) })

	// Three appends of 3 bytes make one 8-byte chunk plus 1 byte.
	r.Append(pattern(3, 0))
	r.Append(pattern(3, 3))
	if len(chunks) != 0 {
		t.Fatalf("expected no chunk before 8 bytes, got %d", len(chunks))
	}
	r.Append(pattern(3, 6))

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, pattern(8, 0)) {
		t.Errorf("chunk must preserve append order: %v", chunks[0].Data)
	}
	if r.Buffered() != 1 {
		t.Errorf("expected 1 byte buffered, got %d", r.Buffered())
	}
}

func TestRingChunker_EvictsOldestAtBound(t *testing.T) {
	// No chunk callback registered: data accumulates until evicted.
	r := NewRingChunker(4, 1, 100*time.Second, 32) // chunk size far above the bound

	for i := 0; i < 10; i++ {
		r.Append(pattern(8, byte(i*8)))
		if b := r.Buffered(); b > 32 {
			t.Fatalf("buffered %d exceeds bound 32 after append %d", b, i)
		}
	}

	s := r.Stats()
	if s.BufferedBytes != 32 {
		t.Errorf("expected buffer full at 32, got %d", s.BufferedBytes)
	}
	if s.BytesEvicted != 48 {
		t.Errorf("expected 48 bytes evicted, got %d", s.BytesEvicted)
	}
	if s.BytesAppended != 80 {
		t.Errorf("expected 80 bytes appended, got %d", s.BytesAppended)
	}
}

func TestRingChunker_OversizedAppendKeepsNewest(t *testing.T) {
	r := NewRingChunker(4, 1, 100*time.Second, 32)

	p := pattern(50, 0)
	r.Append(p)

	if r.Buffered() != 32 {
		t.Fatalf("expected 32 bytes buffered, got %d", r.Buffered())
	}
	if r.Stats().BytesEvicted != 18 {
		t.Errorf("expected 18 bytes evicted, got %d", r.Stats().BytesEvicted)
	}
}

func TestRingChunker_AppendDoesNotAliasInput(t *testing.T) {
	r := newTestChunker(t)

	var got []byte
	r.OnChunk(func(c Chunk) { got = c.Data })

	p := pattern(8, 0)
	r.Append(p)
	for i := range p {
		p[i] = 0xFF
	}

	if !bytes.Equal(got, pattern(8, 0)) {
		t.Errorf("chunk data must not alias caller buffer: %v", got)
	}
}

func TestRingChunker_Clear(t *testing.T) {
	r := newTestChunker(t)

	reset := false
	r.OnReset(func() { reset = true })

	r.Append(pattern(4, 0))
	r.Clear()

	if r.Buffered() != 0 {
		t.Errorf("expected empty buffer after clear, got %d", r.Buffered())
	}
	if !reset {
		t.Error("expected reset callback to fire")
	}
}

func TestRingChunker_EmptyAppendIgnored(t *testing.T) {
	r := newTestChunker(t)
	r.Append(nil)
	r.Append([]byte{})
	if s := r.Stats(); s.BytesAppended != 0 || s.BufferedBytes != 0 {
		t.Errorf("empty appends must be ignored: %+v", s)
	}
}
