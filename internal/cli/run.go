package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/events"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		input     string
		sessionID string
		realtime  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a live transcription session",
		Long: `Reads raw 16-bit little-endian PCM from a file or stdin, streams
it through the configured provider and prints the final aggregated
transcript as JSON when the session ends.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{
				Level:  cfg.Observability.LogLevel,
				Format: cfg.Observability.LogFormat,
			})
			return runSession(cmd, cfg, input, sessionID, realtime)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "PCM input file, or - for stdin")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session ID (generated when empty)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace file input at real time")
	return cmd
}

func runSession(cmd *cobra.Command, cfg *config.Config, input, sessionID string, realtime bool) error {
	pipe := session.NewPipeline(cfg)
	defer pipe.Close()

	pub := events.NewPublisher(&events.PublisherConfig{
		Brokers:    cfg.Kafka.Brokers,
		TopicBatch: cfg.Kafka.TopicBatch,
		TopicFinal: cfg.Kafka.TopicFinal,
		Principal:  cfg.Kafka.Principal,
		Enabled:    cfg.Kafka.Enabled,
	})
	defer pub.Close()

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go events.Relay(relayCtx, pipe.Bus, pub)

	obs := observability.NewServer(cfg.Observability.Addr, func() any { return pipe.Stats() })
	obs.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	var src io.ReadCloser
	if input == "-" || input == "" {
		src = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("failed to open input %s: %w", input, err)
		}
		src = f
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := pipe.StartSession(ctx, sessionID)
	if err != nil {
		return err
	}
	log.Info().Str("sessionId", id).Str("input", input).Msg("Feeding audio")

	feedDone := make(chan error, 1)
	go func() {
		feedDone <- feed(ctx, pipe, src, cfg, realtime)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-feedDone:
		if err != nil {
			log.Error().Err(err).Msg("Audio feed failed")
		}
		// Give in-flight segments a moment to land before the flush.
		time.Sleep(cfg.Aggregation.BatchInterval)
	}

	final, err := pipe.StopSession()
	if err != nil {
		return err
	}
	if final != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}
	return nil
}

// feed pushes the input stream into the pipeline in chunk-sized reads.
// With realtime pacing each chunk is followed by a chunk-duration
// sleep, simulating a live capture source.
func feed(ctx context.Context, pipe *session.Pipeline, src io.Reader, cfg *config.Config, realtime bool) error {
	buf := make([]byte, cfg.ChunkSizeBytes())
	interval := time.Duration(cfg.Audio.ChunkDuration * float64(time.Second))

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			pipe.OnAudioData(buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		if realtime {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		} else if ctx.Err() != nil {
			return nil
		}
	}
}
