// Kaiwa is a Matrix chat bot that relays conversations to a language model.
//
// Settings are read from an optional .env file, then from the YAML file named
// by KAIWA_CONFIG (default ./settings.yaml), then from the environment.
//
// Required settings:
//
//	MATRIX_HOMESERVER     - Matrix homeserver URL (e.g. "https://matrix.org")
//	MATRIX_USER_ID        - bot's Matrix ID (e.g. "@kaiwa:matrix.org")
//	MATRIX_ACCESS_TOKEN   - bot's Matrix access token
//	COMPLETION_MODEL      - model name (e.g. "gpt-4o")
//
// Optional settings:
//
//	MATRIX_ALLOWED_ROOMS  - comma-separated room IDs; empty answers everywhere
//	STORAGE_DURABLE       - "false" keeps conversations in memory only
//	STORAGE_DRIVER        - "sqlite" (default), "postgres" or "mysql"
//	STORAGE_DSN           - driver DSN (default: ./kaiwa.db)
//	HISTORY_MAX_LEN       - entries kept per chat (default: 20)
//	COMPLETION_PROVIDER   - "openai" (default) or "anthropic"
//	COMPLETION_API_KEY    - API key for the provider
//	COMPLETION_BASE_URL   - override the API base URL (e.g. for Ollama)
//	COMPLETION_TIMEOUT    - bound on one model call (default: 2m)
//	HTTP_ADDR             - health server address (default ":8080", empty disables)
//	LOG_LEVEL             - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT            - "text" or "json" (default: "text")
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bdobrica/kaiwa/common/version"
	"github.com/bdobrica/kaiwa/internal/kaiwa/app"
	"github.com/bdobrica/kaiwa/internal/kaiwa/config"
	"github.com/bdobrica/kaiwa/internal/kaiwa/observability"
)

func main() {
	fmt.Println(version.Info())

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Secrets()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kaiwa, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kaiwa: %v\n", err)
		os.Exit(1)
	}

	runErr := kaiwa.Run(ctx)
	if err := kaiwa.Close(); err != nil {
		logger.Warn("failed to close store", "err", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running Kaiwa: %v\n", runErr)
		os.Exit(1)
	}
}
