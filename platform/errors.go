package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline step a fetch error came from.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageStats     Stage = "stats"
	StageChat      Stage = "chat"
)

// FetchError is a transient network or API failure. It is never fatal to the
// monitor loop: the stage that hit it degrades and the next cycle retries.
type FetchError struct {
	Stage Stage
	// ID is the channel, broadcast or chat id the request was made for.
	ID  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed for %q: %v", e.Stage, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Wrap returns err as a *FetchError for stage/id, leaving nil and existing
// FetchErrors untouched.
func Wrap(stage Stage, id string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Stage: stage, ID: id, Err: err}
}

// IsTransient reports whether err is (or wraps) a FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// ErrorClass separates failures worth waiting out from ones that need an operator.
type ErrorClass int

const (
	// ErrorClassRetryable covers network, server and quota errors that clear on their own.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers auth and not-found errors that repeat every cycle until fixed.
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError buckets a fetch error by its message. Fatal errors are still
// recovered by the loop; the class only picks the log level and metric label.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())

	// 5xx first: "service unavailable" must not match the not-found patterns below.
	for _, p := range []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "backenderror"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	for _, p := range []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "api key not valid", "keyinvalid", "login authentication failed", "missing client id"} {
		if strings.Contains(lower, p) {
			// quotaExceeded and rateLimitExceeded come back as 403 on YouTube.
			if strings.Contains(lower, "quota") || strings.Contains(lower, "ratelimit") || strings.Contains(lower, "rate limit") {
				return ErrorClassRetryable
			}
			return ErrorClassFatal
		}
	}
	for _, p := range []string{"404", "not found", "livechatnotfound", "livechatended", "livechatdisabled"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}
