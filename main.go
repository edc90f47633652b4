package main

import (
	"log/slog"
	"os"

	"smart-queue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		slog.Error("queuectl failed", "error", err)
		os.Exit(1)
	}
}
