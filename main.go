// Command botwatch monitors one live stream and estimates how many of its
// reported concurrent viewers are real. Each cycle it:
//   - Resolves the channel's current live broadcast and reads the viewer count.
//   - Samples the broadcast's live chat for a fixed window.
//   - Derives a real/bot viewer split and appends it to the result log
//     (and the optional Postgres mirror).
//
// A small HTTP server exposes /healthz, /readyz, /status, /results and /metrics.
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/botwatch/chat"
	"github.com/onnwee/botwatch/config"
	"github.com/onnwee/botwatch/db"
	"github.com/onnwee/botwatch/estimate"
	"github.com/onnwee/botwatch/monitor"
	"github.com/onnwee/botwatch/platform"
	"github.com/onnwee/botwatch/resultlog"
	"github.com/onnwee/botwatch/server"
	"github.com/onnwee/botwatch/telemetry"
	"github.com/onnwee/botwatch/twitchapi"
	"github.com/onnwee/botwatch/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	slog.SetDefault(newLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		var ce *config.ConfigurationError
		if errors.As(err, &ce) {
			slog.Error("invalid configuration", slog.Any("err", err))
		} else {
			slog.Error("config load failed", slog.Any("err", err))
		}
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("botwatch", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, closeClient, err := buildClient(ctx, cfg)
	if err != nil {
		slog.Error("platform client setup failed", slog.Any("err", err), slog.String("platform", cfg.Platform))
		os.Exit(1)
	}
	defer closeClient()
	guard := platform.NewGuard(client, platform.GuardSettings{Name: cfg.Platform})

	fileLog := resultlog.NewFileLog(cfg.LogPath)
	sinks := monitor.MultiSink{fileLog}
	var results server.ResultReader = fileLog
	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.Setup(ctx, database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		store := db.NewResultStore(database)
		sinks = append(sinks, store)
		results = store
		slog.Info("postgres result mirror enabled", slog.String("component", "db"))
	}

	m := monitor.New(
		guard,
		chat.NewSampler(guard, cfg.SuspiciousThreshold),
		estimate.New(cfg.LurkerFactor, cfg.MinRatioThreshold),
		sinks,
		monitor.Options{ChannelID: cfg.ChannelID, SamplingWindow: cfg.SamplingWindow, CycleInterval: cfg.CycleInterval},
	)

	handler := server.NewMux(&server.Handlers{
		Monitor:      m,
		Results:      results,
		BreakerState: guard.State,
		Platform:     cfg.Platform,
		ChannelID:    cfg.ChannelID,
		LogPath:      cfg.LogPath,
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, handler); err != nil {
			slog.Error("http server exited", slog.Any("err", err))
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	slog.Info("botwatch starting",
		slog.String("platform", cfg.Platform),
		slog.String("channel", cfg.ChannelID),
		slog.Duration("interval", cfg.CycleInterval),
		slog.Duration("window", cfg.SamplingWindow),
		slog.String("log_path", cfg.LogPath),
	)
	// Run only returns once ctx is done.
	slog.Info("monitor stopped", slog.Any("reason", m.Run(ctx)))
}

// newLogger builds the process logger. Defaults: level=info, format=text.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if unknown {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

// buildClient wires the platform binding selected by cfg. The returned func
// releases any long-lived connections.
func buildClient(ctx context.Context, cfg *config.Config) (platform.Client, func(), error) {
	switch cfg.Platform {
	case config.PlatformTwitch:
		helix := &twitchapi.HelixClient{
			TokenSource: twitchapi.NewAppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, nil),
			ClientID:    cfg.TwitchClientID,
		}
		streams := twitchapi.NewClient(helix)
		src := chat.NewTwitchSource(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
		closeFn := func() {
			if err := src.Close(); err != nil {
				slog.Warn("twitch chat close failed", slog.Any("err", err))
			}
		}
		return platform.Compose(streams, streams, src), closeFn, nil
	default:
		yt, err := youtubeapi.New(ctx, cfg.YouTubeAPIKey)
		if err != nil {
			return nil, nil, err
		}
		return yt, func() {}, nil
	}
}
