package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/avaraes/aide/pkg/aide/autoreply"
	"github.com/avaraes/aide/pkg/aide/bus"
	"github.com/avaraes/aide/pkg/aide/config"
	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/connector/telegram"
	"github.com/avaraes/aide/pkg/aide/connector/whatsapp"
	"github.com/avaraes/aide/pkg/aide/llm"
	"github.com/avaraes/aide/pkg/aide/notify"
	"github.com/avaraes/aide/pkg/aide/session"
	"github.com/avaraes/aide/pkg/aide/store"
	"github.com/avaraes/aide/pkg/aide/tts"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app bundles the wired collaborators a command works with.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	bus    *bus.Bus

	whatsapp *whatsapp.WhatsApp
	telegram *telegram.Telegram
}

// connectors returns the enabled connectors.
func (a *app) connectors() []connector.Connector {
	var out []connector.Connector
	if a.whatsapp != nil {
		out = append(out, a.whatsapp)
	}
	if a.telegram != nil {
		out = append(out, a.telegram)
	}
	return out
}

// byPlatform resolves a platform argument to its connector.
func (a *app) byPlatform(platform string) (connector.Connector, error) {
	switch platform {
	case whatsapp.Platform:
		if a.whatsapp == nil {
			return nil, fmt.Errorf("whatsapp connector is disabled in config")
		}
		return a.whatsapp, nil
	case telegram.Platform:
		if a.telegram == nil {
			return nil, fmt.Errorf("telegram connector is disabled in config")
		}
		return a.telegram, nil
	default:
		return nil, fmt.Errorf("unknown platform %q (use whatsapp or telegram)", platform)
	}
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp loads config and wires the full connector stack.
func buildApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging, verboseFlag(cmd))
	slog.SetDefault(logger)

	config.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sessions := session.NewStore(cfg.SessionsDir())
	b := bus.New()
	gen := llm.New(cfg.LLM, logger)
	notifier := &notify.LogNotifier{Logger: logger}

	var voice tts.Provider
	if cfg.TTS.APIKey != "" {
		voice = tts.NewOpenAIProvider(cfg.TTS)
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, bus: b}

	if cfg.WhatsApp.Enabled {
		pipeline := connector.NewPipeline(whatsapp.Platform, st, b, nil, logger)
		wa := whatsapp.New(whatsapp.Config{
			Enabled:    true,
			DeviceName: cfg.WhatsApp.DeviceName,
		}, st, sessions, b, pipeline, logger)
		engine := autoreply.New(whatsapp.Platform, cfg.WhatsApp.AutoReply,
			gen, wa, st, notifier, b, voice, location, logger)
		pipeline.SetReplyHandler(engine)
		a.whatsapp = wa
	}

	if cfg.Telegram.Enabled {
		pipeline := connector.NewPipeline(telegram.Platform, st, b, nil, logger)
		tg := telegram.New(telegram.Config{
			Enabled: true,
			APIID:   cfg.Telegram.APIID,
			APIHash: cfg.Telegram.APIHash,
		}, st, sessions, b, pipeline, logger, newZapLogger(cfg.Logging, verboseFlag(cmd)))
		engine := autoreply.New(telegram.Platform, cfg.Telegram.AutoReply,
			gen, tg, st, notifier, b, voice, location, logger)
		pipeline.SetReplyHandler(engine)
		a.telegram = tg
	}

	return a, nil
}

// waitForReady polls the connector state until it is ready, errored, or the
// wait expires. Commands that need a live connection use it after
// Initialize; the state machine itself is event-driven.
func waitForReady(ctx context.Context, c connector.Connector, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if c.IsReady() {
			return true
		}
		if c.AuthState() == connector.StateError {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func verboseFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("verbose")
	return v
}

// newLogger builds the structured logger from the logging section.
func newLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newZapLogger feeds gotd's internals. Silent unless debugging; MTProto
// tracing drowns the text log otherwise.
func newZapLogger(cfg config.LoggingConfig, verbose bool) *zap.Logger {
	if cfg.Level == "debug" || verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}
