package chat

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/botwatch/platform"
	"github.com/onnwee/botwatch/telemetry"
)

// DefaultSuspiciousThreshold is the message count above which a regular chatter is flagged.
const DefaultSuspiciousThreshold = 10

// ChatAuthorRecord is one unique chat participant within a sampling window.
type ChatAuthorRecord struct {
	AuthorID     string
	MessageCount int
	// IsModerator and IsOwner are captured on first sight and never updated.
	IsModerator bool
	IsOwner     bool
}

// EndReason tells why a sampling window closed.
type EndReason string

const (
	EndDeadline    EndReason = "deadline"
	EndFetchError  EndReason = "fetch_error"
	EndInterrupted EndReason = "interrupted"
)

// ChatSample is the aggregate of one closed sampling window. Values are copies;
// nothing in a ChatSample is shared with the sampler.
type ChatSample struct {
	UniqueChatters            int
	TotalMessages             int
	AverageMessagesPerChatter float64
	SuspiciousChatters        int

	Pages     int
	EndReason EndReason
	// Authors is sorted by AuthorID.
	Authors []ChatAuthorRecord
}

// Sampler collects a ChatSample from a ChatSource over a fixed window.
type Sampler struct {
	source              platform.ChatSource
	suspiciousThreshold int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSampler returns a Sampler reading from source. A negative threshold falls
// back to DefaultSuspiciousThreshold.
func NewSampler(source platform.ChatSource, suspiciousThreshold int) *Sampler {
	if suspiciousThreshold < 0 {
		suspiciousThreshold = DefaultSuspiciousThreshold
	}
	return &Sampler{
		source:              source,
		suspiciousThreshold: suspiciousThreshold,
		now:                 time.Now,
		sleep:               sleepCtx,
	}
}

type samplerState int

const (
	stateFetch samplerState = iota
	statePace
	stateDone
)

// Sample paginates chatID until window elapses or a fetch fails. The deadline is
// checked before every request and bounds every pacing sleep. Cancelling ctx
// closes the window early with whatever was collected.
func (s *Sampler) Sample(ctx context.Context, chatID string, window time.Duration) ChatSample {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_sampler"), slog.String("chat_id", chatID))
	deadline := s.now().Add(window)
	w := newWindow()

	var (
		token string
		page  *platform.ChatPage
		err   error
	)
	reason := EndDeadline
	state := stateFetch
	for state != stateDone {
		switch state {
		case stateFetch:
			if !s.now().Before(deadline) {
				state = stateDone
				continue
			}
			if ctx.Err() != nil {
				reason = EndInterrupted
				state = stateDone
				continue
			}
			page, err = s.source.ListMessages(ctx, chatID, token)
			if err != nil {
				class := platform.ClassifyError(err)
				log.Warn("chat fetch failed; closing window early", slog.Int("pages", w.pages), slog.Int("messages", w.total), slog.String("class", class.String()), slog.Any("err", err))
				telemetry.CountFetchError(string(platform.StageChat), class.String())
				reason = EndFetchError
				state = stateDone
				continue
			}
			w.addPage(page)
			if page != nil {
				token = page.NextPageToken
			}
			state = statePace
		case statePace:
			remaining := deadline.Sub(s.now())
			if remaining <= 0 {
				state = stateDone
				continue
			}
			if err := s.sleep(ctx, min(page.Poll(), remaining)); err != nil {
				reason = EndInterrupted
				state = stateDone
				continue
			}
			state = stateFetch
		}
	}

	sample := w.close(s.suspiciousThreshold, reason)
	log.Debug("chat window closed",
		slog.String("reason", string(reason)),
		slog.Int("pages", sample.Pages),
		slog.Int("messages", sample.TotalMessages),
		slog.Int("unique", sample.UniqueChatters),
		slog.Int("suspicious", sample.SuspiciousChatters))
	return sample
}

// window is the mutable state of one sampling window.
type window struct {
	authors map[string]*ChatAuthorRecord
	total   int
	pages   int
}

func newWindow() *window {
	return &window{authors: make(map[string]*ChatAuthorRecord)}
}

func (w *window) addPage(p *platform.ChatPage) {
	w.pages++
	telemetry.Add(telemetry.ChatPagesTotal, 1)
	if p == nil {
		return
	}
	for _, m := range p.Items {
		w.total++
		rec, ok := w.authors[m.AuthorID]
		if !ok {
			rec = &ChatAuthorRecord{AuthorID: m.AuthorID, IsModerator: m.IsModerator, IsOwner: m.IsOwner}
			w.authors[m.AuthorID] = rec
		}
		rec.MessageCount++
	}
	telemetry.Add(telemetry.ChatMessagesTotal, len(p.Items))
}

func (w *window) close(threshold int, reason EndReason) ChatSample {
	out := ChatSample{
		UniqueChatters: len(w.authors),
		TotalMessages:  w.total,
		Pages:          w.pages,
		EndReason:      reason,
		Authors:        make([]ChatAuthorRecord, 0, len(w.authors)),
	}
	for _, rec := range w.authors {
		if rec.MessageCount > threshold && !rec.IsModerator && !rec.IsOwner {
			out.SuspiciousChatters++
		}
		out.Authors = append(out.Authors, *rec)
	}
	sort.Slice(out.Authors, func(i, j int) bool { return out.Authors[i].AuthorID < out.Authors[j].AuthorID })
	if out.UniqueChatters > 0 {
		out.AverageMessagesPerChatter = float64(out.TotalMessages) / float64(out.UniqueChatters)
	}
	return out
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
