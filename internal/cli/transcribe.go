package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/logging"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/session"
)

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a complete audio file",
		Long: `Transcribes an audio file with the configured provider and prints
the resulting segments as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{
				Level:  cfg.Observability.LogLevel,
				Format: cfg.Observability.LogFormat,
			})

			pipe := session.NewPipeline(cfg)
			defer pipe.Close()

			segs, err := pipe.Engine.TranscribeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(segs)
		},
	}
	return cmd
}
