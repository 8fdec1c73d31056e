package whisper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/models"
)

// whisperOutput mirrors the JSON written by the binary with -oj.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON parses the binary's JSON output into final segments.
func parseWhisperJSON(data []byte, fallbackLang string) ([]models.TranscriptSegment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse transcription JSON: %w", err)
	}

	lang := out.Result.Language
	if lang == "" {
		lang = fallbackLang
	}

	segs := make([]models.TranscriptSegment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segs = append(segs, models.TranscriptSegment{
			StartTime:  time.Duration(t.Offsets.From) * time.Millisecond,
			EndTime:    time.Duration(t.Offsets.To) * time.Millisecond,
			Text:       text,
			Confidence: fixedConfidence,
			IsFinal:    true,
			Language:   lang,
		})
	}
	return segs, nil
}

// parseSRT parses SubRip subtitle output into final segments. Blocks
// have an index line, a "start --> end" line, and one or more text
// lines.
func parseSRT(srt, lang string) ([]models.TranscriptSegment, error) {
	var segs []models.TranscriptSegment

	blocks := strings.Split(strings.ReplaceAll(srt, "\r\n", "\n"), "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}

		start, end, err := parseSRTTimes(lines[1])
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(strings.Join(lines[2:], " "))
		if text == "" {
			continue
		}
		segs = append(segs, models.TranscriptSegment{
			StartTime:  start,
			EndTime:    end,
			Text:       text,
			Confidence: fixedConfidence,
			IsFinal:    true,
			Language:   lang,
		})
	}
	return segs, nil
}

func parseSRTTimes(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed subtitle time line: %q", line)
	}
	start, err := parseSRTTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSRTTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseSRTTimestamp parses "HH:MM:SS,mmm".
func parseSRTTimestamp(s string) (time.Duration, error) {
	var h, m int
	var sec, ms int64

	main, msPart, ok := strings.Cut(s, ",")
	if !ok {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}
	fields := strings.Split(main, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}

	var err error
	if h, err = strconv.Atoi(fields[0]); err != nil {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}
	if m, err = strconv.Atoi(fields[1]); err != nil {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}
	if sec, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}
	if ms, err = strconv.ParseInt(msPart, 10, 64); err != nil {
		return 0, fmt.Errorf("malformed subtitle timestamp: %q", s)
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}
