package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/botwatch/platform"
)

// fakeClock advances only when the sampler sleeps or a page is fetched.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

// scriptedSource returns pages in order; after the script runs out it returns
// empty pages. fetchCost advances the clock per request.
type scriptedSource struct {
	clock     *fakeClock
	pages     []*platform.ChatPage
	errAt     int // 1-based request index that fails; 0 = never
	fetchCost time.Duration
	tokens    []string
	calls     int
}

func (s *scriptedSource) ListMessages(ctx context.Context, chatID, pageToken string) (*platform.ChatPage, error) {
	s.calls++
	s.tokens = append(s.tokens, pageToken)
	if s.clock != nil {
		s.clock.t = s.clock.t.Add(s.fetchCost)
	}
	if s.errAt > 0 && s.calls == s.errAt {
		return nil, platform.Wrap(platform.StageChat, chatID, errors.New("googleapi: Error 503"))
	}
	if s.calls <= len(s.pages) {
		return s.pages[s.calls-1], nil
	}
	return &platform.ChatPage{}, nil
}

func msgs(author string, n int, mod, owner bool) []platform.ChatMessage {
	out := make([]platform.ChatMessage, n)
	for i := range out {
		out[i] = platform.ChatMessage{AuthorID: author, IsModerator: mod, IsOwner: owner}
	}
	return out
}

func newTestSampler(src platform.ChatSource, clock *fakeClock, threshold int) *Sampler {
	s := NewSampler(src, threshold)
	s.now = clock.now
	s.sleep = clock.sleep
	return s
}

func sumCounts(sample ChatSample) int {
	n := 0
	for _, a := range sample.Authors {
		n += a.MessageCount
	}
	return n
}

func TestSampleDedupesAuthorsAndCountsMessages(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	page1 := &platform.ChatPage{NextPageToken: "p2", PollingInterval: 5 * time.Second}
	page1.Items = append(page1.Items, msgs("alice", 3, false, false)...)
	page1.Items = append(page1.Items, msgs("bob", 1, false, false)...)
	page2 := &platform.ChatPage{NextPageToken: "p3", PollingInterval: 5 * time.Second}
	page2.Items = append(page2.Items, msgs("alice", 2, false, false)...)
	page2.Items = append(page2.Items, msgs("carol", 4, true, false)...)
	src := &scriptedSource{clock: clock, pages: []*platform.ChatPage{page1, page2}}

	sample := newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 30*time.Second)

	if sample.UniqueChatters != 3 {
		t.Errorf("UniqueChatters = %d, want 3", sample.UniqueChatters)
	}
	if sample.TotalMessages != 10 {
		t.Errorf("TotalMessages = %d, want 10", sample.TotalMessages)
	}
	if got := sumCounts(sample); got != sample.TotalMessages {
		t.Errorf("sum of author counts = %d, want %d", got, sample.TotalMessages)
	}
	if sample.AverageMessagesPerChatter != 10.0/3.0 {
		t.Errorf("AverageMessagesPerChatter = %v", sample.AverageMessagesPerChatter)
	}
	if sample.EndReason != EndDeadline {
		t.Errorf("EndReason = %s, want deadline", sample.EndReason)
	}
	if sample.Authors[0].AuthorID != "alice" || sample.Authors[0].MessageCount != 5 {
		t.Errorf("alice record = %+v", sample.Authors[0])
	}
	if !sample.Authors[2].IsModerator {
		t.Errorf("carol should be a moderator: %+v", sample.Authors[2])
	}
	// tokens are forwarded: "", p2, p3, ...
	if src.tokens[0] != "" || src.tokens[1] != "p2" || src.tokens[2] != "p3" {
		t.Errorf("tokens = %v", src.tokens)
	}
}

func TestSamplePacingIsBoundedByDeadline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	src := &scriptedSource{clock: clock, pages: []*platform.ChatPage{
		{PollingInterval: 4 * time.Second},
		{PollingInterval: 4 * time.Second},
		{PollingInterval: 4 * time.Second},
	}}

	newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 10*time.Second)

	want := []time.Duration{4 * time.Second, 4 * time.Second, 2 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3 (no request after the deadline)", src.calls)
	}
}

func TestSampleDefaultPollInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	src := &scriptedSource{clock: clock}

	newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 5*time.Second)

	if len(clock.sleeps) == 0 || clock.sleeps[0] != platform.DefaultPollingInterval {
		t.Errorf("first sleep = %v, want default %v", clock.sleeps, platform.DefaultPollingInterval)
	}
}

func TestSampleStopsWithoutSleepingWhenFetchExhaustsWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	src := &scriptedSource{clock: clock, fetchCost: 6 * time.Second}

	newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 5*time.Second)

	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none when no time remains", clock.sleeps)
	}
}

func TestSampleFetchErrorReturnsPartialSample(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var pages []*platform.ChatPage
	for p := 0; p < 2; p++ {
		page := &platform.ChatPage{NextPageToken: fmt.Sprintf("t%d", p), PollingInterval: time.Second}
		for a := 0; a < 10; a++ {
			page.Items = append(page.Items, msgs(fmt.Sprintf("user-%d", a), 2, false, false)...)
		}
		pages = append(pages, page)
	}
	src := &scriptedSource{clock: clock, pages: pages, errAt: 3}

	sample := newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 30*time.Second)

	if sample.TotalMessages != 40 || sample.UniqueChatters != 10 {
		t.Errorf("sample = %d messages / %d unique, want 40 / 10", sample.TotalMessages, sample.UniqueChatters)
	}
	if sample.EndReason != EndFetchError {
		t.Errorf("EndReason = %s, want fetch_error", sample.EndReason)
	}
	if sample.Pages != 2 {
		t.Errorf("Pages = %d, want 2", sample.Pages)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3 (no retry after failure)", src.calls)
	}
}

func TestSampleSuspiciousExemptsModeratorsAndOwners(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	page := &platform.ChatPage{}
	page.Items = append(page.Items, msgs("spammer", 11, false, false)...)
	page.Items = append(page.Items, msgs("at-threshold", 10, false, false)...)
	page.Items = append(page.Items, msgs("mod", 50, true, false)...)
	page.Items = append(page.Items, msgs("owner", 50, false, true)...)
	src := &scriptedSource{clock: clock, pages: []*platform.ChatPage{page}}

	sample := newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", time.Second)

	if sample.SuspiciousChatters != 1 {
		t.Errorf("SuspiciousChatters = %d, want 1", sample.SuspiciousChatters)
	}
}

func TestSampleRoleCapturedOnFirstSight(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	page := &platform.ChatPage{Items: []platform.ChatMessage{
		{AuthorID: "x", IsModerator: false},
	}}
	for i := 0; i < 11; i++ {
		page.Items = append(page.Items, platform.ChatMessage{AuthorID: "x", IsModerator: true})
	}
	src := &scriptedSource{clock: clock, pages: []*platform.ChatPage{page}}

	sample := newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", time.Second)

	if sample.Authors[0].IsModerator {
		t.Error("moderator flag should be fixed at first observation")
	}
	if sample.SuspiciousChatters != 1 {
		t.Errorf("SuspiciousChatters = %d, want 1", sample.SuspiciousChatters)
	}
}

func TestSampleEmptyWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	src := &scriptedSource{clock: clock}

	sample := newTestSampler(src, clock, 10).Sample(context.Background(), "chat-1", 0)

	if src.calls != 0 {
		t.Errorf("calls = %d, want 0 for an elapsed window", src.calls)
	}
	if sample.UniqueChatters != 0 || sample.AverageMessagesPerChatter != 0 {
		t.Errorf("expected zero sample, got %+v", sample)
	}
}

func TestSampleInterruptedKeepsPartialSample(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	src := &cancelAfterFirst{cancel: cancel}

	sample := newTestSampler(src, clock, 10).Sample(ctx, "chat-1", time.Minute)

	if sample.EndReason != EndInterrupted {
		t.Errorf("EndReason = %s, want interrupted", sample.EndReason)
	}
	if sample.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2", sample.TotalMessages)
	}
}

type cancelAfterFirst struct {
	cancel context.CancelFunc
}

func (c *cancelAfterFirst) ListMessages(ctx context.Context, chatID, pageToken string) (*platform.ChatPage, error) {
	c.cancel()
	return &platform.ChatPage{Items: msgs("a", 2, false, false)}, nil
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx(cancelled) = %v, want context.Canceled", err)
	}
}
