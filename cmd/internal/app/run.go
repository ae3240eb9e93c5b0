package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Run is the CLI entrypoint used by cmd/localchat.
// It returns an error instead of calling os.Exit so deferred cleanup still runs.
func Run() error {
	if err := godotenv.Load(EnvString("LOCALCHAT_ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file: %w", err)
	}

	s, err := LoadSettings()
	if err != nil {
		return err
	}
	log := NewLogger(s.App.LogLevel, s.App.LogFormat)

	if err := ValidateSecurityConfig(s); err != nil {
		log.Error("config.invalid", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, s, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
