package audio

import (
	"math"
	"sync"
	"time"
)

// silenceAmplitude is the absolute sample magnitude below which a sample
// counts as silent; silenceFraction is the share of silent samples that
// classifies a whole chunk as silence.
const (
	silenceAmplitude = 100
	silenceFraction  = 0.9
)

// QualityMetrics describes the signal quality of one audio chunk.
// Level is RMS normalized to 0-100.
type QualityMetrics struct {
	Level     float64   `json:"level"`
	Peak      float64   `json:"peak"`
	Average   float64   `json:"average"`
	Silent    bool      `json:"silent"`
	Timestamp time.Time `json:"timestamp"`
}

// Analyze computes quality metrics over a buffer of signed 16-bit
// little-endian PCM samples. An odd trailing byte is truncated rather
// than treated as an error.
func Analyze(data []byte) QualityMetrics {
	n := len(data) / 2
	m := QualityMetrics{Timestamp: time.Now()}
	if n == 0 {
		m.Silent = true
		return m
	}

	var sumSquares, sumAbs, peak float64
	quiet := 0
	for i := 0; i < n; i++ {
		s := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		abs := math.Abs(float64(s))
		sumSquares += abs * abs
		sumAbs += abs
		if abs > peak {
			peak = abs
		}
		if abs < silenceAmplitude {
			quiet++
		}
	}

	rms := math.Sqrt(sumSquares / float64(n))
	m.Level = rms / 32767.0 * 100.0
	m.Peak = peak
	m.Average = sumAbs / float64(n)
	m.Silent = float64(quiet)/float64(n) >= silenceFraction
	return m
}

// windowCapacity bounds the rolling quality window.
const windowCapacity = 100

// QualityWindow retains the most recent quality metrics for trend
// statistics. Oldest entries are dropped on overflow.
type QualityWindow struct {
	mu      sync.Mutex
	entries []QualityMetrics
}

// WindowStats summarizes the rolling quality window.
type WindowStats struct {
	Current float64 `json:"current_level"`
	Average float64 `json:"average_level"`
	Peak    float64 `json:"peak_level"`
	Silent  bool    `json:"silent"`
	Size    int     `json:"window_size"`
}

// NewQualityWindow creates an empty rolling window.
func NewQualityWindow() *QualityWindow {
	return &QualityWindow{}
}

// Add appends metrics to the window, dropping the oldest entry when the
// window is full.
func (w *QualityWindow) Add(m QualityMetrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, m)
	if len(w.entries) > windowCapacity {
		w.entries = w.entries[len(w.entries)-windowCapacity:]
	}
}

// Stats returns current, average, and peak levels over the window.
func (w *QualityWindow) Stats() WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == 0 {
		return WindowStats{Silent: true}
	}

	var sum, peak float64
	for _, m := range w.entries {
		sum += m.Level
		if m.Level > peak {
			peak = m.Level
		}
	}
	latest := w.entries[len(w.entries)-1]
	return WindowStats{
		Current: latest.Level,
		Average: sum / float64(len(w.entries)),
		Peak:    peak,
		Silent:  latest.Silent,
		Size:    len(w.entries),
	}
}
