// Package errors classifies failures into recovery kinds (spec §4.2, §7,
// §13), and maps each kind to its retry profile; it has no circuit breaker
// mapping. Message classification is substring-based over the
// error's message, mirroring the approach error_recovery.py's
// _classify_error takes against str(error).
package errors

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"

	"newspulse/internal/resilience/retry"
)

// Kind is a classified error type driving a specific recovery strategy.
type Kind string

const (
	RateLimit   Kind = "rate_limit"
	ServerError Kind = "server_error"
	Timeout     Kind = "timeout"
	ParseError  Kind = "parse_error"
	AuthError   Kind = "auth_error"
	Network     Kind = "network"
	Database    Kind = "database"
	Unknown     Kind = "unknown"
)

// Classify assigns a Kind to err. It checks structured signals first
// (context, net.Error, syscall errors, retry.HTTPError's status code), then
// falls back to substring matching on the error text for errors that arrive
// as opaque strings (e.g. from an LLM SDK or a parser).
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		if k := classifyStatusCode(httpErr.StatusCode); k != Unknown {
			return k
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return Network
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return Timeout
	}

	return classifyMessage(err.Error())
}

func classifyStatusCode(code int) Kind {
	switch {
	case code == 429:
		return RateLimit
	case code == 401 || code == 403:
		return AuthError
	case code >= 500 && code < 600:
		return ServerError
	case code == 408:
		return Timeout
	}
	return Unknown
}

// classifyMessage mirrors error_recovery.py's _classify_error: lowercase
// substring matching, checked in the same priority order as the original.
func classifyMessage(msg string) Kind {
	s := strings.ToLower(msg)

	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "rate limit"):
		return RateLimit
	case strings.Contains(s, "500") || strings.Contains(s, "502") || strings.Contains(s, "503"):
		return ServerError
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return Timeout
	case strings.Contains(s, "parse") || strings.Contains(s, "json") || strings.Contains(s, "xml") || strings.Contains(s, "unmarshal"):
		return ParseError
	case strings.Contains(s, "auth") || strings.Contains(s, "unauthorized") || strings.Contains(s, "forbidden"):
		return AuthError
	case strings.Contains(s, "database") || strings.Contains(s, "sql") || strings.Contains(s, "pgx") || strings.Contains(s, "connection pool"):
		return Database
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "dns"):
		return Network
	default:
		return Unknown
	}
}

// RetryConfig returns the per-kind retry profile from spec §13.
func (k Kind) RetryConfig() retry.Config {
	switch k {
	case RateLimit:
		return retry.RateLimitConfig()
	case ServerError:
		return retry.ServerErrorConfig()
	case Timeout:
		return retry.TimeoutConfig()
	case Network:
		return retry.NetworkConfig()
	case Database:
		return retry.DatabaseRecoveryConfig()
	case AuthError:
		return retry.AuthErrorConfig()
	case ParseError:
		return retry.ParseErrorConfig()
	default:
		return retry.DefaultConfig()
	}
}

// RetryAfterSeconds extracts a Retry-After value embedded in a rate_limit
// error's message, e.g. "429 rate limited, retry after 12s". Returns 0, false
// if none is found, in which case the caller should fall back to
// RateLimitConfig's 60s default.
func RetryAfterSeconds(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	s := strings.ToLower(err.Error())
	idx := strings.Index(s, "retry after ")
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len("retry after "):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err2 := strconv.Atoi(rest[:end])
	if err2 != nil {
		return 0, false
	}
	return n, true
}
