package logging

import (
	"context"
	"errors"
	"strings"
	"syscall"
)

func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429")
}

// IsCanceled reports whether err stems from a cancelled request context.
// Transport errors do not always wrap context.Canceled, so the message is
// checked as well.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(err.Error(), "context canceled")
}

// IsClientGone reports whether a write failed because the peer hung up.
func IsClientGone(err error) bool {
	if err == nil {
		return false
	}
	if IsCanceled(err) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
