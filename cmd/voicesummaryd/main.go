package main

import (
	"os"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
