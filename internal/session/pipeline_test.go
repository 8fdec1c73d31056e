package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/events"
)

func pipelineConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.ChunkDuration = 0.01 // 320-byte chunks keep the test fast
	cfg.Audio.MaxBufferBytes = 64 * 1024
	cfg.Aggregation.BatchInterval = 25 * time.Millisecond
	cfg.Aggregation.MinSegmentDuration = 0
	return cfg
}

func TestPipeline_EndToEnd(t *testing.T) {
	cfg := pipelineConfig()
	pipe := NewPipeline(cfg)
	defer pipe.Close()

	ch := pipe.Bus.Subscribe()

	id, err := pipe.StartSession(context.Background(), "e2e")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if id != "e2e" {
		t.Fatalf("expected session ID preserved, got %s", id)
	}
	if _, err := pipe.StartSession(context.Background(), "again"); err == nil {
		t.Error("expected error starting a second session")
	}

	// Feed enough paced chunks for the scripted provider to finish one
	// utterance (three interims plus the final).
	chunk := make([]byte, cfg.ChunkSizeBytes())
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}
	for i := 0; i < 5; i++ {
		pipe.OnAudioData(chunk)
		time.Sleep(60 * time.Millisecond)
	}

	stats := pipe.Stats()
	if !stats.Running {
		t.Error("expected pipeline running")
	}
	if stats.ActiveProvider != "mock" {
		t.Errorf("expected mock provider, got %s", stats.ActiveProvider)
	}
	if stats.Ring.ChunksEmitted < 5 {
		t.Errorf("expected at least 5 chunks, got %d", stats.Ring.ChunksEmitted)
	}
	if stats.Quality.Size == 0 {
		t.Error("expected quality window populated")
	}

	final, err := pipe.StopSession()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if final == nil {
		t.Fatal("expected a final transcript")
	}
	if !final.Final || final.SessionID != "e2e" {
		t.Errorf("unexpected final transcript: final=%v session=%s", final.Final, final.SessionID)
	}
	if len(final.Segments) == 0 || final.WordCount == 0 {
		t.Fatalf("expected transcript content, got %+v", final)
	}
	joined := ""
	for _, s := range final.Segments {
		joined += s.Text + " "
	}
	if !strings.Contains(joined, "agenda") {
		t.Errorf("expected scripted text in the transcript, got %q", joined)
	}

	if pipe.Stats().Running {
		t.Error("expected pipeline stopped")
	}

	// The bus saw the session lifecycle, chunk flow and at least one
	// result.
	var started, stopped, chunked, result bool
	deadline := time.After(time.Second)
drain:
	for !(started && stopped && chunked && result) {
		select {
		case ev, ok := <-ch:
			if !ok {
				break drain
			}
			switch ev.(type) {
			case events.SessionStarted:
				started = true
			case events.SessionStopped:
				stopped = true
			case events.ChunkReady:
				chunked = true
			case events.TranscriptionResult:
				result = true
			}
		case <-deadline:
			break drain
		}
	}
	if !started || !stopped || !chunked || !result {
		t.Errorf("missing lifecycle events: started=%v stopped=%v chunked=%v result=%v", started, stopped, chunked, result)
	}
}

func TestPipeline_AudioIgnoredWhenIdle(t *testing.T) {
	pipe := NewPipeline(pipelineConfig())
	defer pipe.Close()

	pipe.OnAudioData(make([]byte, 1024))
	if got := pipe.Stats().Ring.BytesAppended; got != 0 {
		t.Errorf("audio must be ignored while idle, appended=%d", got)
	}
}

func TestPipeline_StopWithoutSession(t *testing.T) {
	pipe := NewPipeline(pipelineConfig())
	defer pipe.Close()

	final, err := pipe.StopSession()
	if err != nil || final != nil {
		t.Errorf("stop without session must be a no-op, got final=%v err=%v", final, err)
	}
}
