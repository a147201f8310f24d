// Package monitor runs the sampling cycle: find the live broadcast, read its
// stats, sample chat, estimate the real/bot split and append the result.
// Every transient failure degrades the current cycle; only context
// cancellation stops the loop.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/botwatch/chat"
	"github.com/onnwee/botwatch/estimate"
	"github.com/onnwee/botwatch/platform"
	"github.com/onnwee/botwatch/telemetry"
)

// State is a step of the cycle state machine.
type State string

const (
	StateIdle           State = "idle"
	StateDiscovering    State = "discovering"
	StateStatsFetched   State = "stats_fetched"
	StateSampling       State = "sampling"
	StateEstimated      State = "estimated"
	StateLogged         State = "logged"
	StateSkipped        State = "skipped"
	StateDegradedLogged State = "degraded_logged"
)

// Outcome is what RunCycle reached. Result is nil when the cycle was skipped.
// Err is set only when the result could not be appended.
type Outcome struct {
	State  State
	Result *CycleResult
	Err    error
}

// Snapshot is an immutable view of the monitor for readers on other goroutines.
type Snapshot struct {
	Latest      *CycleResult `json:"latest,omitempty"`
	Cycles      int64        `json:"cycles"`
	LastState   State        `json:"lastState"`
	LastCycleAt time.Time    `json:"lastCycleAt"`
}

// Options configures a Monitor.
type Options struct {
	ChannelID      string
	SamplingWindow time.Duration
	CycleInterval  time.Duration
}

// Monitor owns the cycle loop. Collaborators are injected; Monitor holds no
// global state.
type Monitor struct {
	client    platform.Client
	sampler   *chat.Sampler
	estimator estimate.Estimator
	sink      Sink
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cycles   atomic.Int64
	snapshot atomic.Pointer[Snapshot]
}

// New returns a Monitor.
func New(client platform.Client, sampler *chat.Sampler, estimator estimate.Estimator, sink Sink, opts Options) *Monitor {
	m := &Monitor{
		client:    client,
		sampler:   sampler,
		estimator: estimator,
		sink:      sink,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	m.snapshot.Store(&Snapshot{LastState: StateIdle})
	return m
}

// Snapshot returns the latest published snapshot.
func (m *Monitor) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Run executes cycles until ctx is cancelled and then returns ctx.Err(). Each
// cycle is followed by the full cycle interval regardless of how long sampling
// took. Cancellation is honoured between cycles and during the interval sleep;
// a cycle that is already appending its result finishes the write first.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("monitor starting",
		slog.String("channel", m.opts.ChannelID),
		slog.Duration("interval", m.opts.CycleInterval),
		slog.Duration("sampling_window", m.opts.SamplingWindow))
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("monitor stopped", slog.Int64("cycles", m.cycles.Load()))
			return err
		}
		m.RunCycle(ctx)
		if err := m.sleep(ctx, m.opts.CycleInterval); err != nil {
			slog.Info("monitor stopped", slog.Int64("cycles", m.cycles.Load()))
			return err
		}
	}
}

// RunCycle performs one discovery → stats → sample → estimate → append pass.
func (m *Monitor) RunCycle(ctx context.Context) Outcome {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "monitor.cycle", attribute.String("channel_id", m.opts.ChannelID))
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))
	start := m.now()
	ts := start.UTC()

	out := m.cycle(ctx, log, ts)

	if telemetry.CycleDuration != nil {
		telemetry.CycleDuration.Observe(m.now().Sub(start).Seconds())
	}
	telemetry.CountCycle(string(out.State))
	span.SetAttributes(attribute.String("state", string(out.State)))
	telemetry.EndSpan(span, out.Err)

	m.publish(out, ts)
	return out
}

func (m *Monitor) cycle(ctx context.Context, log *slog.Logger, ts time.Time) Outcome {
	log.Info("starting analysis", slog.Time("timestamp", ts))

	// DISCOVERING
	videoID, err := m.client.FindLiveBroadcast(ctx, m.opts.ChannelID)
	if err != nil {
		m.fetchFailed(log, platform.StageDiscovery, m.opts.ChannelID, err)
		return Outcome{State: StateSkipped}
	}
	if videoID == "" {
		log.Info("no active live stream found", slog.String("channel", m.opts.ChannelID))
		return Outcome{State: StateSkipped}
	}

	stats, err := m.client.GetStats(ctx, videoID)
	if err != nil {
		m.fetchFailed(log, platform.StageStats, videoID, err)
		return Outcome{State: StateSkipped}
	}
	if stats == nil {
		log.Info("failed to get stream stats", slog.String("video_id", videoID))
		return Outcome{State: StateSkipped}
	}
	// STATS_FETCHED
	telemetry.Set(telemetry.ConcurrentViewers, stats.ConcurrentViewers)

	if stats.ActiveChatID == "" {
		log.Info("no chat id found; estimating all viewers as bots", slog.String("video_id", videoID), slog.Int("concurrent_viewers", stats.ConcurrentViewers))
		res := NewCycleResult(ts, m.opts.ChannelID, videoID, stats.ConcurrentViewers, chat.ChatSample{}, estimate.NoChat(stats.ConcurrentViewers))
		if err := m.append(ctx, log, res); err != nil {
			return Outcome{State: StateStatsFetched, Result: &res, Err: err}
		}
		m.recordEstimate(res)
		return Outcome{State: StateDegradedLogged, Result: &res}
	}

	// SAMPLING
	log.Info("collecting chat messages", slog.String("chat_id", stats.ActiveChatID), slog.Duration("window", m.opts.SamplingWindow))
	sctx, span := telemetry.StartSpan(ctx, "monitor.sample", attribute.String("chat_id", stats.ActiveChatID))
	var sample chat.ChatSample
	telemetry.TimeFunc(telemetry.SamplingDuration, func() {
		sample = m.sampler.Sample(sctx, stats.ActiveChatID, m.opts.SamplingWindow)
	})
	span.SetAttributes(
		attribute.Int("pages", sample.Pages),
		attribute.Int("messages", sample.TotalMessages),
		attribute.String("end_reason", string(sample.EndReason)))
	telemetry.EndSpan(span, nil)

	// ESTIMATED
	est := m.estimator.Estimate(stats.ConcurrentViewers, sample)
	res := NewCycleResult(ts, m.opts.ChannelID, videoID, stats.ConcurrentViewers, sample, est)
	log.Info("estimate",
		slog.Int("real", res.EstimatedRealViewers),
		slog.Int("bots", res.EstimatedBotViewers),
		slog.String("method", res.EstimationMethod),
		slog.Int("concurrent_viewers", res.ConcurrentViewers),
		slog.Int("unique_chatters", res.UniqueChatterCount),
		slog.String("window_end", string(sample.EndReason)))

	if err := m.append(ctx, log, res); err != nil {
		return Outcome{State: StateEstimated, Result: &res, Err: err}
	}
	m.recordEstimate(res)
	return Outcome{State: StateLogged, Result: &res}
}

// append writes res even if ctx is already cancelled so shutdown never cuts a
// write short.
func (m *Monitor) append(ctx context.Context, log *slog.Logger, res CycleResult) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := m.sink.Append(wctx, res); err != nil {
		telemetry.Add(telemetry.LogAppendsFailed, 1)
		log.Error("failed to append cycle result", slog.Any("err", err))
		return err
	}
	return nil
}

// fetchClassUnexpected labels failures that did not come back as a FetchError,
// which means a binding broke its contract rather than the platform failing.
const fetchClassUnexpected = "unexpected"

func (m *Monitor) fetchFailed(log *slog.Logger, stage platform.Stage, id string, err error) {
	if !platform.IsTransient(err) {
		telemetry.CountFetchError(string(stage), fetchClassUnexpected)
		log.Error("unexpected fetch failure; skipping cycle", slog.String("stage", string(stage)), slog.String("id", id), slog.Any("err", err))
		return
	}
	class := platform.ClassifyError(err)
	telemetry.CountFetchError(string(stage), class.String())
	attrs := []any{slog.String("stage", string(stage)), slog.String("id", id), slog.String("class", class.String()), slog.Any("err", err)}
	if class == platform.ErrorClassFatal {
		log.Error("fetch failed; skipping cycle", attrs...)
		return
	}
	log.Warn("fetch failed; skipping cycle", attrs...)
}

func (m *Monitor) recordEstimate(res CycleResult) {
	telemetry.Set(telemetry.EstimatedRealViewers, res.EstimatedRealViewers)
	telemetry.Set(telemetry.EstimatedBotViewers, res.EstimatedBotViewers)
	telemetry.Set(telemetry.UniqueChatters, res.UniqueChatterCount)
	telemetry.Set(telemetry.SuspiciousChatters, res.PotentiallySuspiciousChatters)
}

func (m *Monitor) publish(out Outcome, ts time.Time) {
	n := m.cycles.Add(1)
	prev := m.snapshot.Load()
	next := &Snapshot{Latest: prev.Latest, Cycles: n, LastState: out.State, LastCycleAt: ts}
	if out.Result != nil && out.Err == nil {
		r := *out.Result
		next.Latest = &r
	}
	m.snapshot.Store(next)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
