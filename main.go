// Command backend is the entrypoint for the cat cafe extension API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs idempotent migrations when a
//     token store is configured (DB_DSN set).
//   - Constructs the shared bot credential manager and Helix client.
//   - Exposes the HTTP API: /order, /menu, /config/messages, OAuth seeding,
//     /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pawbrew/cat-cafe/backend/config"
	"github.com/pawbrew/cat-cafe/backend/db"
	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/helix"
	"github.com/pawbrew/cat-cafe/backend/server"
	"github.com/pawbrew/cat-cafe/backend/telemetry"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("cat-cafe-backend", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Optional Postgres token store: persists rotated refresh tokens across
	// restarts. Without it, rotation is surfaced in logs for the operator.
	var database = openTokenStore(cfg)
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	tokens := &twitchauth.Manager{
		ClientID:         cfg.TwitchClientID,
		ClientSecret:     cfg.TwitchClientSecret,
		SeedRefreshToken: cfg.BotRefreshToken,
		RequiredScopes:   strings.Fields(cfg.TwitchScopes),
	}
	if database != nil {
		tokens.Store = &db.TokenStoreAdapter{DB: database}
	}

	signer, err := extjwt.NewSigner(cfg.ExtensionSecret)
	if err != nil {
		if errors.Is(err, extjwt.ErrUnconfigured) {
			slog.Warn("EXTENSION_SECRET not set; all authenticated endpoints will reject requests")
		} else {
			slog.Error("invalid EXTENSION_SECRET", slog.Any("err", err))
			os.Exit(1)
		}
	}

	hx := &helix.Client{
		ClientID:    cfg.TwitchClientID,
		ExtensionID: cfg.ExtensionID,
		Tokens:      tokens,
		Signer:      signer,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handlers := server.NewHandlers(cfg, database, tokens, hx, signer)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()
	slog.Info("cat cafe backend started", slog.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	slog.Info("shutting down")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// openTokenStore connects to Postgres and migrates the schema when DB_DSN is
// set. Failures degrade to memory-only operation rather than aborting.
func openTokenStore(cfg *config.Config) *sql.DB {
	if cfg.DBDsn == "" {
		slog.Info("DB_DSN not set; token rotation will be surfaced via logs only")
		return nil
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db, continuing without token store", slog.Any("err", err))
		return nil
	}
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded SQL fallback", slog.Any("err", err))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db, continuing without token store", slog.Any("err", err))
			_ = database.Close()
			return nil
		}
	}
	return database
}
