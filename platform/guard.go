package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/onnwee/botwatch/telemetry"
)

// Guard wraps a Client with a circuit breaker. While the circuit is open every
// call fails fast with a FetchError instead of reaching the platform API.
type Guard struct {
	next Client
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// GuardSettings tunes the breaker. Zero values pick the defaults noted per field.
type GuardSettings struct {
	Name string
	// Interval resets the failure counts while closed (default 5m).
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing (default 2m).
	Timeout time.Duration
	// ConsecutiveFailures opens the circuit (default 5).
	ConsecutiveFailures uint32
}

// NewGuard returns next wrapped in a circuit breaker.
func NewGuard(next Client, s GuardSettings) *Guard {
	if s.Name == "" {
		s.Name = "platform-api"
	}
	if s.Interval <= 0 {
		s.Interval = 5 * time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Minute
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	telemetry.UpdateCircuitGauge(s.Name, false)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// Shutdown cancellation is not a platform failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			telemetry.UpdateCircuitGauge(name, to == gobreaker.StateOpen)
		},
	})
	return &Guard{next: next, cb: cb, name: s.Name}
}

// State reports the breaker state ("closed", "half-open", "open").
func (g *Guard) State() string { return g.cb.State().String() }

func (g *Guard) FindLiveBroadcast(ctx context.Context, channelID string) (string, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.FindLiveBroadcast(ctx, channelID)
	})
	if err != nil {
		return "", Wrap(StageDiscovery, channelID, err)
	}
	id, _ := v.(string)
	return id, nil
}

func (g *Guard) GetStats(ctx context.Context, broadcastID string) (*Stats, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.GetStats(ctx, broadcastID)
	})
	if err != nil {
		return nil, Wrap(StageStats, broadcastID, err)
	}
	st, _ := v.(*Stats)
	return st, nil
}

func (g *Guard) ListMessages(ctx context.Context, chatID, pageToken string) (*ChatPage, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.ListMessages(ctx, chatID, pageToken)
	})
	if err != nil {
		return nil, Wrap(StageChat, chatID, err)
	}
	page, _ := v.(*ChatPage)
	return page, nil
}
