// Package cli defines the command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/version"
)

var configPath string

// NewRootCmd builds the root command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voicesummaryd",
		Short: "Live speech transcription and aggregation service",
		Long: `voicesummaryd ingests raw PCM audio, streams it through a
speech-to-text provider and aggregates the recognized segments into a
merged, speaker-attributed transcript.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newTranscribeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicesummaryd %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
