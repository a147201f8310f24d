package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/onnwee/botwatch/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")
	logger.Debug("hello", slog.String("k", "v"))
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json debug output = %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, "verbose", "")
	if !strings.Contains(buf.String(), "unknown LOG_LEVEL") {
		t.Errorf("expected unknown level warning, got %q", buf.String())
	}
	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug logged at info level: %q", buf.String())
	}
}

func TestBuildClient(t *testing.T) {
	ctx := context.Background()

	yt, closeFn, err := buildClient(ctx, &config.Config{Platform: config.PlatformYouTube, YouTubeAPIKey: "key"})
	if err != nil {
		t.Fatalf("youtube client: %v", err)
	}
	closeFn()
	if yt == nil {
		t.Fatal("nil youtube client")
	}

	if _, _, err := buildClient(ctx, &config.Config{Platform: config.PlatformYouTube}); err == nil {
		t.Error("expected error without API key")
	}

	tw, closeFn, err := buildClient(ctx, &config.Config{
		Platform:           config.PlatformTwitch,
		TwitchClientID:     "id",
		TwitchClientSecret: "secret",
		TwitchBotUsername:  "bot",
		TwitchOAuthToken:   "tok",
	})
	if err != nil {
		t.Fatalf("twitch client: %v", err)
	}
	if tw == nil {
		t.Fatal("nil twitch client")
	}
	closeFn()
}
