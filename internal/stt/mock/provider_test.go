package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stterror"
)

type collectListener struct {
	mu   sync.Mutex
	segs []models.TranscriptSegment
	errs []error
}

func (l *collectListener) OnSegment(s models.TranscriptSegment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segs = append(l.segs, s)
}

func (l *collectListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *collectListener) segments() []models.TranscriptSegment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.TranscriptSegment, len(l.segs))
	copy(out, l.segs)
	return out
}

func script() []Utterance {
	return []Utterance{
		{Interims: []string{"he", "hello"}, Final: "hello world", Confidence: 0.9},
		{Interims: []string{"bye"}, Final: "goodbye", Confidence: 0.8},
	}
}

func TestProvider_LifecycleErrors(t *testing.T) {
	p := NewScripted(script())
	l := &collectListener{}

	err := p.StartStreaming(context.Background(), stt.StreamOptions{}, l)
	var se *stterror.STTError
	if !asSTT(err, &se) || se.Type != stterror.TypeInitialization {
		t.Fatalf("expected initialization error before Initialize, got %v", err)
	}

	if err := p.SendAudio(context.Background(), []byte{0, 0}); err == nil {
		t.Error("expected error sending audio before streaming")
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := p.StartStreaming(context.Background(), stt.StreamOptions{}, l); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	err = p.StartStreaming(context.Background(), stt.StreamOptions{}, l)
	if !asSTT(err, &se) || se.Type != stterror.TypeInvalidRequest {
		t.Errorf("expected invalid-request error for double start, got %v", err)
	}
}

func TestProvider_ScriptProgression(t *testing.T) {
	p := NewScripted(script())
	l := &collectListener{}
	ctx := context.Background()

	p.Initialize(ctx)
	if err := p.StartStreaming(ctx, stt.StreamOptions{SampleRate: 16000, Channels: 1}, l); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// One segment per audio push: two interims, then the final.
	chunk := make([]byte, 32000) // 1s at 16kHz mono
	for i := 0; i < 3; i++ {
		if err := p.SendAudio(ctx, chunk); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	segs := l.segments()
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[0].IsFinal || segs[1].IsFinal {
		t.Error("interims must not be final")
	}
	if !segs[2].IsFinal || segs[2].Text != "hello world" {
		t.Errorf("expected final 'hello world', got %+v", segs[2])
	}
	if segs[2].Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", segs[2].Confidence)
	}
	if segs[2].EndTime <= segs[2].StartTime && segs[2].EndTime == 0 {
		t.Errorf("offsets must advance with audio: %+v", segs[2])
	}

	// The next utterance starts where the previous final ended.
	p.SendAudio(ctx, chunk) // interim "bye"
	p.SendAudio(ctx, chunk) // final "goodbye"
	segs = l.segments()
	if len(segs) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(segs))
	}
	if segs[4].Text != "goodbye" || !segs[4].IsFinal {
		t.Errorf("expected final 'goodbye', got %+v", segs[4])
	}
	if segs[4].StartTime != segs[2].EndTime {
		t.Errorf("utterance must start at previous final end: %v != %v",
			segs[4].StartTime, segs[2].EndTime)
	}
}

func TestProvider_StopAndClose(t *testing.T) {
	p := NewScripted(script())
	l := &collectListener{}
	ctx := context.Background()

	p.Initialize(ctx)
	p.StartStreaming(ctx, stt.StreamOptions{}, l)
	if err := p.StopStreaming(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := p.SendAudio(ctx, []byte{0, 0}); err == nil {
		t.Error("expected error sending after stop")
	}

	p.StartStreaming(ctx, stt.StreamOptions{}, l)
	p.Close()
	if err := p.SendAudio(ctx, []byte{0, 0}); err == nil {
		t.Error("expected error sending after close")
	}
}

func TestProvider_TranscribeFile(t *testing.T) {
	p := NewScripted(script())
	ctx := context.Background()

	if _, err := p.TranscribeFile(ctx, "x.wav"); err == nil {
		t.Error("expected error before Initialize")
	}

	p.Initialize(ctx)
	segs, err := p.TranscribeFile(ctx, "x.wav")
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 finals, got %d", len(segs))
	}
	for _, s := range segs {
		if !s.IsFinal {
			t.Errorf("file segments must be final: %+v", s)
		}
	}
	if segs[0].Text != "hello world" || segs[1].Text != "goodbye" {
		t.Errorf("unexpected texts: %q, %q", segs[0].Text, segs[1].Text)
	}
	if segs[1].StartTime <= segs[0].StartTime {
		t.Error("file segments must advance in time")
	}
}

// asSTT is a tiny errors.As helper for test readability.
func asSTT(err error, target **stterror.STTError) bool {
	if err == nil {
		return false
	}
	se, ok := err.(*stterror.STTError)
	if !ok {
		return false
	}
	*target = se
	return true
}
