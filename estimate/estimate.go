// Package estimate turns a viewer count and a chat sample into a real/bot split.
package estimate

import (
	"math"

	"github.com/onnwee/botwatch/chat"
)

// Method labels how an estimate was reached.
type Method string

const (
	MethodNoConcurrentViewers Method = "no_concurrent_viewers"
	MethodNoReliableChatters  Method = "no_reliable_chatters"
	MethodLurkerFactor        Method = "lurker_factor"
	MethodFallbackRatio       Method = "fallback_ratio"
	// MethodNoChatAvailable is set by the monitor when a broadcast has no chat to sample.
	MethodNoChatAvailable Method = "no_chat_available"
)

const (
	DefaultLurkerFactor      = 0.25
	DefaultMinRatioThreshold = 0.02
)

// ViewerEstimate is the result of one estimation. The ratio fields are rounded to
// four decimals for reporting; the split itself uses unrounded ratios.
type ViewerEstimate struct {
	EstimatedRealViewers      int
	EstimatedBotViewers       int
	Method                    Method
	RawChatToViewerRatio      float64
	AdjustedChatToViewerRatio float64
}

// Estimator holds the tunables. The zero value is not useful; use New.
type Estimator struct {
	lurkerFactor      float64
	minRatioThreshold float64
}

// New returns an Estimator. A lurker factor outside (0,1] or a negative or
// non-finite ratio threshold falls back to its default.
func New(lurkerFactor, minRatioThreshold float64) Estimator {
	if !(lurkerFactor > 0 && lurkerFactor <= 1) {
		lurkerFactor = DefaultLurkerFactor
	}
	if !(minRatioThreshold >= 0) || math.IsInf(minRatioThreshold, 1) {
		minRatioThreshold = DefaultMinRatioThreshold
	}
	return Estimator{lurkerFactor: lurkerFactor, minRatioThreshold: minRatioThreshold}
}

// Estimate splits concurrentViewers into real and bot viewers. It has no side
// effects and no failure mode.
//
// The chat-to-viewer ratio only extrapolates well above a minimum density. Above
// it, the non-suspicious chatters are scaled up by the lurker factor; below it,
// the ratio is applied to the audience directly. Either way the result is
// clamped so it is never below the chatters actually seen nor above the
// reported audience.
func (e Estimator) Estimate(concurrentViewers int, sample chat.ChatSample) ViewerEstimate {
	if concurrentViewers <= 0 {
		return ViewerEstimate{Method: MethodNoConcurrentViewers}
	}

	adjusted := max(0, sample.UniqueChatters-sample.SuspiciousChatters)
	viewers := float64(concurrentViewers)
	rawRatio := float64(sample.UniqueChatters) / viewers
	adjustedRatio := float64(adjusted) / viewers

	var realViewers int
	var method Method
	switch {
	case adjusted == 0:
		realViewers, method = 0, MethodNoReliableChatters
	case adjustedRatio >= e.minRatioThreshold:
		realViewers, method = int(math.RoundToEven(float64(adjusted)/e.lurkerFactor)), MethodLurkerFactor
	default:
		realViewers, method = int(math.RoundToEven(viewers*adjustedRatio)), MethodFallbackRatio
	}

	realViewers = min(max(realViewers, adjusted), concurrentViewers)
	return ViewerEstimate{
		EstimatedRealViewers:      realViewers,
		EstimatedBotViewers:       max(0, concurrentViewers-realViewers),
		Method:                    method,
		RawChatToViewerRatio:      Round4(rawRatio),
		AdjustedChatToViewerRatio: Round4(adjustedRatio),
	}
}

// NoChat is the estimate for a broadcast whose chat cannot be measured: the
// whole audience is counted as unverified.
func NoChat(concurrentViewers int) ViewerEstimate {
	return ViewerEstimate{
		EstimatedBotViewers: max(0, concurrentViewers),
		Method:              MethodNoChatAvailable,
	}
}

// Round4 rounds to four decimal places, half to even.
func Round4(v float64) float64 {
	return math.RoundToEven(v*10000) / 10000
}
