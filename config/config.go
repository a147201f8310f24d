// Package config loads environment variables into a typed Config. Tunables have
// defaults so only the channel and platform credentials need to be set; use
// Validate to fail fast at startup when something required is missing.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported platforms.
const (
	PlatformYouTube = "youtube"
	PlatformTwitch  = "twitch"
)

// Defaults for the estimation and scheduling tunables.
const (
	DefaultSamplingWindow      = 30 * time.Second
	DefaultCycleInterval       = 60 * time.Second
	DefaultLurkerFactor        = 0.25
	DefaultMinRatioThreshold   = 0.02
	DefaultSuspiciousThreshold = 10
	DefaultLogPath             = "stream_analysis_log.json"
	DefaultHTTPAddr            = ":8080"
)

// ConfigurationError reports a missing or invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Setting, e.Reason)
}

type Config struct {
	ChannelID string
	Platform  string

	// YouTube
	YouTubeAPIKey string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchBotUsername  string
	TwitchOAuthToken   string

	// Sampling and estimation
	SamplingWindow      time.Duration
	CycleInterval       time.Duration
	LurkerFactor        float64
	MinRatioThreshold   float64
	SuspiciousThreshold int

	// Persistence
	LogPath string
	DBDsn   string

	HTTPAddr string
}

// Load reads environment variables and applies defaults. Malformed numbers are
// reported as ConfigurationError; missing credentials are left to Validate.
func Load() (*Config, error) {
	cfg := &Config{
		ChannelID:          strings.TrimSpace(os.Getenv("CHANNEL_ID")),
		Platform:           strings.ToLower(strings.TrimSpace(os.Getenv("PLATFORM"))),
		YouTubeAPIKey:      os.Getenv("YOUTUBE_API_KEY"),
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchBotUsername:  os.Getenv("TWITCH_BOT_USERNAME"),
		TwitchOAuthToken:   os.Getenv("TWITCH_OAUTH_TOKEN"),
		LogPath:            os.Getenv("LOG_PATH"),
		DBDsn:              os.Getenv("DB_DSN"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
	}
	if cfg.Platform == "" {
		cfg.Platform = PlatformYouTube
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	var err error
	if cfg.SamplingWindow, err = envSeconds("SAMPLING_WINDOW_SECONDS", DefaultSamplingWindow); err != nil {
		return nil, err
	}
	if cfg.CycleInterval, err = envSeconds("CYCLE_INTERVAL_SECONDS", DefaultCycleInterval); err != nil {
		return nil, err
	}
	if cfg.LurkerFactor, err = envFloat("LURKER_FACTOR", DefaultLurkerFactor); err != nil {
		return nil, err
	}
	if cfg.MinRatioThreshold, err = envFloat("MIN_RATIO_THRESHOLD", DefaultMinRatioThreshold); err != nil {
		return nil, err
	}
	if cfg.SuspiciousThreshold, err = envInt("SUSPICIOUS_MESSAGE_THRESHOLD", DefaultSuspiciousThreshold); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings for the selected platform and the ranges of
// the tunables. All problems are joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.ChannelID == "" {
		errs = append(errs, &ConfigurationError{Setting: "CHANNEL_ID", Reason: "required"})
	}
	switch c.Platform {
	case PlatformYouTube:
		if c.YouTubeAPIKey == "" {
			errs = append(errs, &ConfigurationError{Setting: "YOUTUBE_API_KEY", Reason: "required for platform youtube"})
		}
	case PlatformTwitch:
		if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
			errs = append(errs, &ConfigurationError{Setting: "TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET", Reason: "required for platform twitch"})
		}
		if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
			errs = append(errs, &ConfigurationError{Setting: "TWITCH_BOT_USERNAME/TWITCH_OAUTH_TOKEN", Reason: "required to read twitch chat"})
		}
	default:
		errs = append(errs, &ConfigurationError{Setting: "PLATFORM", Reason: fmt.Sprintf("unsupported %q (want youtube or twitch)", c.Platform)})
	}
	if c.SamplingWindow <= 0 {
		errs = append(errs, &ConfigurationError{Setting: "SAMPLING_WINDOW_SECONDS", Reason: "must be > 0"})
	}
	if c.CycleInterval <= 0 {
		errs = append(errs, &ConfigurationError{Setting: "CYCLE_INTERVAL_SECONDS", Reason: "must be > 0"})
	}
	if !(c.LurkerFactor > 0 && c.LurkerFactor <= 1) {
		errs = append(errs, &ConfigurationError{Setting: "LURKER_FACTOR", Reason: "must be in (0, 1]"})
	}
	if !(c.MinRatioThreshold >= 0) || math.IsInf(c.MinRatioThreshold, 1) {
		errs = append(errs, &ConfigurationError{Setting: "MIN_RATIO_THRESHOLD", Reason: "must be >= 0"})
	}
	if c.SuspiciousThreshold < 0 {
		errs = append(errs, &ConfigurationError{Setting: "SUSPICIOUS_MESSAGE_THRESHOLD", Reason: "must be >= 0"})
	}
	if c.LogPath == "" {
		errs = append(errs, &ConfigurationError{Setting: "LOG_PATH", Reason: "required"})
	}
	return errors.Join(errs...)
}

// maxSeconds keeps a seconds setting inside time.Duration.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !isFinite(f) {
		return 0, &ConfigurationError{Setting: key, Reason: fmt.Sprintf("not a number of seconds: %q", v)}
	}
	if math.Abs(f) > maxSeconds {
		return 0, &ConfigurationError{Setting: key, Reason: fmt.Sprintf("out of range: %q", v)}
	}
	return time.Duration(f * float64(time.Second)), nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !isFinite(f) {
		return 0, &ConfigurationError{Setting: key, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigurationError{Setting: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}
