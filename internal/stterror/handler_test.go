package stterror

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHandler_NextDelay(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 5, RetryDelay: time.Second, ExponentialBackoff: true, ErrorThreshold: 10})
	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
	} {
		if got := h.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}

	flat := NewHandler(Config{MaxRetries: 5, RetryDelay: time.Second, ExponentialBackoff: false, ErrorThreshold: 10})
	for attempt := 1; attempt <= 4; attempt++ {
		if got := flat.NextDelay(attempt); got != time.Second {
			t.Errorf("flat attempt %d: expected 1s, got %v", attempt, got)
		}
	}
}

func TestHandler_RetrySchedulingStopsAtCap(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 2, RetryDelay: time.Millisecond, ExponentialBackoff: false, ErrorThreshold: 100})
	defer h.Stop()

	var retries, exhausted atomic.Int32
	done := make(chan struct{}, 8)
	h.OnRetry(func(*STTError) {
		retries.Add(1)
		done <- struct{}{}
	})
	h.OnMaxRetries(func(*STTError) { exhausted.Add(1) })

	e := New(TypeConnection, "p", "op", "connection reset")
	for i := 0; i < 5; i++ {
		if h.Handle(e) {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("retry callback never fired")
			}
		}
	}

	if got := retries.Load(); got != 2 {
		t.Errorf("expected exactly 2 retries, got %d", got)
	}
	if exhausted.Load() == 0 {
		t.Error("expected max-retries callback after the cap")
	}
	if e.RetryCount != 2 {
		t.Errorf("expected retry count to stop at 2, got %d", e.RetryCount)
	}
}

func TestHandler_CriticalNeverRetries(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 3, RetryDelay: time.Millisecond, ErrorThreshold: 100})
	defer h.Stop()

	var critical int32
	h.OnCritical(func(*STTError) { atomic.AddInt32(&critical, 1) })
	h.OnRetry(func(*STTError) { t.Error("critical error must not retry") })

	if h.Handle(New(TypeAuthentication, "p", "op", "bad credentials")) {
		t.Error("Handle must not schedule a retry for critical errors")
	}
	if atomic.LoadInt32(&critical) != 1 {
		t.Error("expected critical callback")
	}
	time.Sleep(10 * time.Millisecond)
}

func TestHandler_NonRetryableSurfacesWithoutRetry(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 3, RetryDelay: time.Millisecond, ErrorThreshold: 100})
	defer h.Stop()

	h.OnRetry(func(*STTError) { t.Error("invalid-request must not retry") })
	if h.Handle(New(TypeInvalidRequest, "p", "op", "bad request")) {
		t.Error("Handle must not schedule a retry for non-retryable errors")
	}
	time.Sleep(10 * time.Millisecond)
}

func TestHandler_ThresholdFiresOncePerBreach(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 0, RetryDelay: time.Millisecond, ErrorThreshold: 3, Window: time.Minute})
	defer h.Stop()

	var mu sync.Mutex
	var counts []int
	h.OnThreshold(func(count int) {
		mu.Lock()
		counts = append(counts, count)
		mu.Unlock()
	})

	for i := 0; i < 6; i++ {
		h.Handle(New(TypeProvider, "p", "op", "backend error"))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 1 {
		t.Fatalf("expected exactly one threshold alert per breach, got %d (%v)", len(counts), counts)
	}
	if counts[0] != 3 {
		t.Errorf("expected alert at count 3, got %d", counts[0])
	}
}

func TestHandler_ThresholdRearmsAfterWindowDrains(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 0, RetryDelay: time.Millisecond, ErrorThreshold: 2, Window: 50 * time.Millisecond})
	defer h.Stop()

	var alerts atomic.Int32
	h.OnThreshold(func(int) { alerts.Add(1) })

	h.Handle(New(TypeProvider, "p", "op", "e1"))
	h.Handle(New(TypeProvider, "p", "op", "e2"))
	if alerts.Load() != 1 {
		t.Fatalf("expected first breach alert, got %d", alerts.Load())
	}

	time.Sleep(80 * time.Millisecond) // window drains

	h.Handle(New(TypeProvider, "p", "op", "e3"))
	h.Handle(New(TypeProvider, "p", "op", "e4"))
	if alerts.Load() != 2 {
		t.Errorf("expected the latch to rearm after the window drained, got %d alerts", alerts.Load())
	}
}

func TestHandler_ResolveAndStats(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 0, RetryDelay: time.Millisecond, ErrorThreshold: 100})
	defer h.Stop()

	e1 := New(TypeNetwork, "google", "stream", "unavailable")
	e2 := New(TypeTimeout, "voxtral", "upload", "timed out")
	h.Handle(e1)
	h.Handle(e2)

	if !h.Resolve(e1.ID) {
		t.Error("expected resolve to succeed")
	}
	if h.Resolve(e1.ID) {
		t.Error("double resolve must fail")
	}
	if h.Resolve("missing") {
		t.Error("resolving an unknown ID must fail")
	}

	s := h.Stats()
	if s.Total != 2 {
		t.Errorf("expected 2 total errors, got %d", s.Total)
	}
	if s.ByType[TypeNetwork] != 1 || s.ByType[TypeTimeout] != 1 {
		t.Errorf("unexpected type counts: %v", s.ByType)
	}
	if s.ByProvider["google"] != 1 || s.ByProvider["voxtral"] != 1 {
		t.Errorf("unexpected provider counts: %v", s.ByProvider)
	}
	if s.AvgResolution < 0 {
		t.Errorf("unexpected average resolution %v", s.AvgResolution)
	}
}

func TestHandler_StopCancelsTimers(t *testing.T) {
	h := NewHandler(Config{MaxRetries: 3, RetryDelay: 20 * time.Millisecond, ErrorThreshold: 100})
	h.OnRetry(func(*STTError) { t.Error("retry must not fire after Stop") })

	h.Handle(New(TypeConnection, "p", "op", "connection refused"))
	h.Stop()
	time.Sleep(50 * time.Millisecond)
}
