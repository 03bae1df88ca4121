package rpc

import (
	"errors"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/goran-ethernal/evmindex/pkg/config"
)

// maxSlotAttempt bounds the exponent in slotBackoff so a pathologically
// large ThrottleLimit can never overflow the 2^attempt span.
const maxSlotAttempt = 20

// retryableError reports whether a transport-level failure (not a JSON-RPC
// application error) is worth another attempt: network timeouts, resets,
// and the gateway-level failures that surface as plain connection errors
// rather than a structured HTTP status.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, ErrServerError) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"),
		strings.Contains(errStr, "bad gateway"),
		strings.Contains(errStr, "service unavailable"),
		strings.Contains(errStr, "gateway timeout"),
		strings.Contains(errStr, "connection pool"),
		strings.Contains(errStr, "no available connection"):
		return true
	}
	return false
}

// slotBackoff implements the 429 backoff formula: slotInterval * rand(0, 2^attempt).
func slotBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxSlotAttempt {
		attempt = maxSlotAttempt
	}
	span := 1 << attempt
	n := rand.Intn(span + 1) // rand(0, 2^attempt) inclusive
	return time.Duration(n) * cfg.SlotInterval.Duration
}
