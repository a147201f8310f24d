package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/botwatch/chat"
	"github.com/onnwee/botwatch/estimate"
)

// CycleResult is the persisted record of one cycle: the chat sample and the
// estimate flattened next to the broadcast identifiers. Once appended it is
// never rewritten.
type CycleResult struct {
	Timestamp         time.Time `json:"timestamp"`
	ChannelID         string    `json:"channelId"`
	VideoID           string    `json:"videoId"`
	ConcurrentViewers int       `json:"concurrentViewers"`

	UniqueChatterCount            int     `json:"uniqueChatterCount"`
	TotalMessagesCollected        int     `json:"totalMessagesCollected"`
	AverageMessagesPerChatter     float64 `json:"averageMessagesPerChatter"`
	PotentiallySuspiciousChatters int     `json:"potentiallySuspiciousChatters"`

	EstimatedRealViewers      int     `json:"estimatedRealViewers"`
	EstimatedBotViewers       int     `json:"estimatedBotViewers"`
	RawChatToViewerRatio      float64 `json:"rawChatToViewerRatio"`
	AdjustedChatToViewerRatio float64 `json:"adjustedChatToViewerRatio"`
	EstimationMethod          string  `json:"estimationMethod"`
}

// NewCycleResult assembles a CycleResult field by field.
func NewCycleResult(ts time.Time, channelID, videoID string, concurrentViewers int, sample chat.ChatSample, est estimate.ViewerEstimate) CycleResult {
	return CycleResult{
		Timestamp:         ts.UTC(),
		ChannelID:         channelID,
		VideoID:           videoID,
		ConcurrentViewers: concurrentViewers,

		UniqueChatterCount:            sample.UniqueChatters,
		TotalMessagesCollected:        sample.TotalMessages,
		AverageMessagesPerChatter:     sample.AverageMessagesPerChatter,
		PotentiallySuspiciousChatters: sample.SuspiciousChatters,

		EstimatedRealViewers:      est.EstimatedRealViewers,
		EstimatedBotViewers:       est.EstimatedBotViewers,
		RawChatToViewerRatio:      est.RawChatToViewerRatio,
		AdjustedChatToViewerRatio: est.AdjustedChatToViewerRatio,
		EstimationMethod:          string(est.Method),
	}
}

// Sink persists cycle results in order.
type Sink interface {
	Append(ctx context.Context, r CycleResult) error
}

// MultiSink appends to every sink, in order, and joins their errors. A failing
// sink does not stop the others.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, r CycleResult) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
