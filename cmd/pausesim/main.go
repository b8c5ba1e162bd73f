// Command pausesim plays a video in Chromium, toggling playback at random
// intervals, and records player and network telemetry to a trace file.
package main

import (
	"context"
	"os"

	"github.com/fatih/color"
)

func main() {
	root := newRootCommand(color.Output, color.Error, runSimulation)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = color.New(color.FgRed).Fprintf(color.Error, "error: %v\n", err)
		os.Exit(1)
	}
}
