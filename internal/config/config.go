// Package config loads and validates the pipeline configuration.
// Values come from an optional YAML file with environment variable
// overrides applied on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Audio         AudioConfig         `yaml:"audio"`
	STT           STTConfig           `yaml:"stt"`
	Retry         RetryConfig         `yaml:"retry"`
	Aggregation   AggregationConfig   `yaml:"aggregation"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the service instance.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Principal string `yaml:"principal"`
}

// AudioConfig contains capture-side audio parameters.
type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	ChunkDuration  float64 `yaml:"chunk_duration"`   // seconds
	MaxBufferBytes int     `yaml:"max_buffer_bytes"` // ring buffer bound
}

// ProviderConfig holds per-provider credentials and defaults.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Language   string `yaml:"language"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BinaryPath string `yaml:"binary_path"` // local subprocess providers
	ModelPath  string `yaml:"model_path"`
}

// STTConfig selects providers and the failover policy.
type STTConfig struct {
	DefaultProvider  string                    `yaml:"default_provider"`
	FallbackProvider string                    `yaml:"fallback_provider"`
	AutoSwitch       bool                      `yaml:"auto_switch"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
}

// RetryConfig controls the error controller.
type RetryConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	ExponentialBackoff bool          `yaml:"exponential_backoff"`
	ErrorThreshold     int           `yaml:"error_threshold"` // errors per 60s window
}

// AggregationConfig controls the transcript aggregator.
type AggregationConfig struct {
	BatchInterval           time.Duration `yaml:"batch_interval"`
	MaxSegmentGap           time.Duration `yaml:"max_segment_gap"`
	MinSegmentDuration      time.Duration `yaml:"min_segment_duration"`
	ConfidenceThreshold     float64       `yaml:"confidence_threshold"`
	EnableSpeakerSeparation bool          `yaml:"enable_speaker_separation"`
	EnableAutoCleanup       bool          `yaml:"enable_auto_cleanup"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	MaxSegmentsInMemory     int           `yaml:"max_segments_in_memory"`
}

// KafkaConfig controls downstream event publishing.
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	TopicBatch string   `yaml:"topic_batch"`
	TopicFinal string   `yaml:"topic_final"`
	Principal  string   `yaml:"principal"`
}

// ObservabilityConfig controls logging and the metrics HTTP server.
type ObservabilityConfig struct {
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console
}

// Default returns the full default configuration tree.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "voice-summary",
			Principal: "svc-voice-summary",
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			Channels:       1,
			ChunkDuration:  1.0,
			MaxBufferBytes: 10 * 1024 * 1024,
		},
		STT: STTConfig{
			DefaultProvider: "mock",
			Providers: map[string]ProviderConfig{
				"google": {
					Language:   "en-US",
					SampleRate: 16000,
					Channels:   1,
				},
				"voxtral": {
					Language: "en",
					Model:    "voxtral-mini-latest",
				},
				"whisper": {
					BinaryPath: "whisper-cli",
					Language:   "en",
				},
			},
		},
		Retry: RetryConfig{
			MaxRetries:         3,
			RetryDelay:         time.Second,
			ExponentialBackoff: true,
			ErrorThreshold:     5,
		},
		Aggregation: AggregationConfig{
			BatchInterval:           500 * time.Millisecond,
			MaxSegmentGap:           2 * time.Second,
			MinSegmentDuration:      100 * time.Millisecond,
			ConfidenceThreshold:     0.3,
			EnableSpeakerSeparation: true,
			EnableAutoCleanup:       true,
			CleanupInterval:         30 * time.Second,
			MaxSegmentsInMemory:     1000,
		},
		Kafka: KafkaConfig{
			Enabled:    false,
			TopicBatch: "transcript.batch",
			TopicFinal: "transcript.final",
			Principal:  "svc-voice-summary",
		},
		Observability: ObservabilityConfig{
			Addr:      ":9090",
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads the configuration. If path is non-empty the YAML file is
// parsed first; environment variables override in either case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.STT.DefaultProvider = envOrDefault("STT_PROVIDER", c.STT.DefaultProvider)
	c.STT.FallbackProvider = envOrDefault("STT_FALLBACK_PROVIDER", c.STT.FallbackProvider)
	c.STT.AutoSwitch = envBool("STT_AUTO_SWITCH", c.STT.AutoSwitch)

	c.Audio.SampleRate = envInt("AUDIO_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.Channels = envInt("AUDIO_CHANNELS", c.Audio.Channels)
	c.Audio.ChunkDuration = envFloat("AUDIO_CHUNK_DURATION", c.Audio.ChunkDuration)
	c.Audio.MaxBufferBytes = envInt("AUDIO_MAX_BUFFER_BYTES", c.Audio.MaxBufferBytes)

	c.Retry.MaxRetries = envInt("RETRY_MAX_RETRIES", c.Retry.MaxRetries)
	c.Retry.RetryDelay = envDuration("RETRY_DELAY", c.Retry.RetryDelay)
	c.Retry.ExponentialBackoff = envBool("RETRY_EXPONENTIAL_BACKOFF", c.Retry.ExponentialBackoff)
	c.Retry.ErrorThreshold = envInt("RETRY_ERROR_THRESHOLD", c.Retry.ErrorThreshold)

	c.Aggregation.BatchInterval = envDuration("AGG_BATCH_INTERVAL", c.Aggregation.BatchInterval)
	c.Aggregation.MaxSegmentGap = envDuration("AGG_MAX_SEGMENT_GAP", c.Aggregation.MaxSegmentGap)
	c.Aggregation.MinSegmentDuration = envDuration("AGG_MIN_SEGMENT_DURATION", c.Aggregation.MinSegmentDuration)
	c.Aggregation.ConfidenceThreshold = envFloat("AGG_CONFIDENCE_THRESHOLD", c.Aggregation.ConfidenceThreshold)
	c.Aggregation.EnableSpeakerSeparation = envBool("AGG_SPEAKER_SEPARATION", c.Aggregation.EnableSpeakerSeparation)
	c.Aggregation.MaxSegmentsInMemory = envInt("AGG_MAX_SEGMENTS", c.Aggregation.MaxSegmentsInMemory)

	c.Kafka.Enabled = envBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	c.Kafka.TopicBatch = envOrDefault("KAFKA_TOPIC_BATCH", c.Kafka.TopicBatch)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)

	c.Observability.Addr = envOrDefault("OBS_ADDR", c.Observability.Addr)
	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.ChunkDuration <= 0 {
		return fmt.Errorf("audio: chunk duration must be positive, got %f", c.Audio.ChunkDuration)
	}
	if c.Audio.MaxBufferBytes < c.ChunkSizeBytes() {
		return fmt.Errorf("audio: max buffer bytes %d smaller than one chunk (%d)",
			c.Audio.MaxBufferBytes, c.ChunkSizeBytes())
	}
	if c.STT.DefaultProvider == "" {
		return fmt.Errorf("stt: default provider must be set")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry: max retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.RetryDelay <= 0 {
		return fmt.Errorf("retry: delay must be positive, got %v", c.Retry.RetryDelay)
	}
	if c.Retry.ErrorThreshold <= 0 {
		return fmt.Errorf("retry: error threshold must be positive, got %d", c.Retry.ErrorThreshold)
	}
	if c.Aggregation.BatchInterval <= 0 {
		return fmt.Errorf("aggregation: batch interval must be positive, got %v", c.Aggregation.BatchInterval)
	}
	if c.Aggregation.ConfidenceThreshold < 0 || c.Aggregation.ConfidenceThreshold > 1 {
		return fmt.Errorf("aggregation: confidence threshold must be in [0,1], got %f",
			c.Aggregation.ConfidenceThreshold)
	}
	if c.Aggregation.MaxSegmentsInMemory <= 0 {
		return fmt.Errorf("aggregation: max segments in memory must be positive, got %d",
			c.Aggregation.MaxSegmentsInMemory)
	}
	return nil
}

// ChunkSizeBytes returns the byte size of one audio chunk:
// sampleRate x channels x 2 (16-bit PCM) x chunkDuration, floored.
func (c *Config) ChunkSizeBytes() int {
	return int(float64(c.Audio.SampleRate*c.Audio.Channels*2) * c.Audio.ChunkDuration)
}

// Provider returns the configuration for a named provider. Sample rate
// and channel count fall back to the capture settings when unset.
func (c *Config) Provider(name string) ProviderConfig {
	p := c.STT.Providers[name]
	if p.SampleRate == 0 {
		p.SampleRate = c.Audio.SampleRate
	}
	if p.Channels == 0 {
		p.Channels = c.Audio.Channels
	}
	return p
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
