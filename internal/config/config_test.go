package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.STT.DefaultProvider != "mock" {
		t.Errorf("expected mock default provider, got %s", cfg.STT.DefaultProvider)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.RetryDelay != time.Second || !cfg.Retry.ExponentialBackoff {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Aggregation.BatchInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms batch interval, got %v", cfg.Aggregation.BatchInterval)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka must default to disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate, got %v", err)
	}
}

func TestChunkSizeBytes(t *testing.T) {
	cfg := Default()
	// 16000 samples/s x 1 channel x 2 bytes x 1.0s
	if got := cfg.ChunkSizeBytes(); got != 32000 {
		t.Errorf("expected 32000, got %d", got)
	}

	cfg.Audio.ChunkDuration = 0.25
	if got := cfg.ChunkSizeBytes(); got != 8000 {
		t.Errorf("expected 8000, got %d", got)
	}

	cfg.Audio.Channels = 2
	cfg.Audio.ChunkDuration = 0.5
	if got := cfg.ChunkSizeBytes(); got != 32000 {
		t.Errorf("expected 32000 for stereo half-second, got %d", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("STT_FALLBACK_PROVIDER", "whisper")
	t.Setenv("STT_AUTO_SWITCH", "true")
	t.Setenv("AUDIO_SAMPLE_RATE", "44100")
	t.Setenv("RETRY_MAX_RETRIES", "7")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("AGG_CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.STT.DefaultProvider != "google" || cfg.STT.FallbackProvider != "whisper" || !cfg.STT.AutoSwitch {
		t.Errorf("stt env overrides not applied: %+v", cfg.STT)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("expected sample rate 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Retry.MaxRetries != 7 || cfg.Retry.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry env overrides not applied: %+v", cfg.Retry)
	}
	if cfg.Aggregation.ConfidenceThreshold != 0.5 {
		t.Errorf("expected confidence threshold 0.5, got %f", cfg.Aggregation.ConfidenceThreshold)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" {
		t.Errorf("broker list not split: %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
service:
  name: test-svc
audio:
  sample_rate: 8000
  chunk_duration: 0.5
stt:
  default_provider: whisper
  providers:
    whisper:
      binary_path: /usr/local/bin/whisper-cli
      language: ja
kafka:
  enabled: false
  topic_batch: custom.batch
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Service.Name != "test-svc" {
		t.Errorf("expected service name test-svc, got %s", cfg.Service.Name)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.ChunkDuration != 0.5 {
		t.Errorf("yaml audio values not applied: %+v", cfg.Audio)
	}
	if cfg.STT.DefaultProvider != "whisper" {
		t.Errorf("expected whisper provider, got %s", cfg.STT.DefaultProvider)
	}
	if cfg.STT.Providers["whisper"].Language != "ja" {
		t.Errorf("provider map not parsed: %+v", cfg.STT.Providers["whisper"])
	}
	if cfg.Kafka.TopicBatch != "custom.batch" {
		t.Errorf("expected custom.batch, got %s", cfg.Kafka.TopicBatch)
	}
	// Untouched values keep their defaults.
	if cfg.Observability.Addr != ":9090" {
		t.Errorf("expected default addr, got %s", cfg.Observability.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Audio.Channels = 0 }},
		{"zero chunk duration", func(c *Config) { c.Audio.ChunkDuration = 0 }},
		{"buffer below one chunk", func(c *Config) { c.Audio.MaxBufferBytes = 100 }},
		{"empty provider", func(c *Config) { c.STT.DefaultProvider = "" }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"zero retry delay", func(c *Config) { c.Retry.RetryDelay = 0 }},
		{"zero threshold", func(c *Config) { c.Retry.ErrorThreshold = 0 }},
		{"zero batch interval", func(c *Config) { c.Aggregation.BatchInterval = 0 }},
		{"confidence above one", func(c *Config) { c.Aggregation.ConfidenceThreshold = 1.5 }},
		{"zero segment bound", func(c *Config) { c.Aggregation.MaxSegmentsInMemory = 0 }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			cfg := Default()
			m.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProvider_Fallbacks(t *testing.T) {
	cfg := Default()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2

	p := cfg.Provider("voxtral") // has no explicit rate or channels
	if p.SampleRate != 48000 || p.Channels != 2 {
		t.Errorf("expected capture fallbacks, got rate=%d ch=%d", p.SampleRate, p.Channels)
	}

	g := cfg.Provider("google") // explicit 16000/1 keeps its values
	if g.SampleRate != 16000 || g.Channels != 1 {
		t.Errorf("explicit provider values must win, got rate=%d ch=%d", g.SampleRate, g.Channels)
	}

	unknown := cfg.Provider("nope")
	if unknown.SampleRate != 48000 {
		t.Errorf("unknown provider must still inherit capture rate, got %d", unknown.SampleRate)
	}
}
