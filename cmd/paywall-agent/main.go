// Command paywall-agent pays Solana paywalls from the command line: it checks
// the agent balance, sends payments, fetches paywalled URLs and can serve its
// wallet as MCP tools.
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
