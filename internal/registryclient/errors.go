package registryclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorType classifies RegistryClient failures (spec §4.5/§7:
// ServerDown, HttpError(code, reason, body), VersionMismatch).
type ErrorType int

const (
	// ErrServerDown covers transport-level failures: the request never
	// produced an HTTP response (DNS, connection refused, TLS, timeout).
	ErrServerDown ErrorType = iota
	// ErrHTTP is a well-formed HTTP response carrying a 4xx/5xx status.
	ErrHTTP
	// ErrVersionMismatch means the response's declared API version did
	// not match the URL-prefixed version the client requested.
	ErrVersionMismatch
	// ErrDNS narrows ErrServerDown to DNS resolution failures.
	ErrDNS
	// ErrTLS narrows ErrServerDown to certificate/handshake failures.
	ErrTLS
	// ErrTimeout narrows ErrServerDown to a deadline or dial timeout.
	ErrTimeout
	// ErrConnection narrows ErrServerDown to refused/reset connections.
	ErrConnection
	// ErrRateLimit is an HTTP 429 response.
	ErrRateLimit
)

// RegistryError is the typed error RegistryClient methods return.
type RegistryError struct {
	Type ErrorType
	// StatusCode and Body are set only for ErrHTTP/ErrRateLimit.
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *RegistryError) Error() string {
	if e.Type == ErrHTTP || e.Type == ErrRateLimit {
		return fmt.Sprintf("registryclient: %s (status %d)", e.Message, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("registryclient: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("registryclient: %s", e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Suggestion returns an actionable hint for the error, or "" if none.
func (e *RegistryError) Suggestion() string {
	switch e.Type {
	case ErrRateLimit:
		return "wait a few minutes before retrying"
	case ErrTimeout:
		return "check network connectivity and retry"
	case ErrDNS:
		return "check DNS resolution for the configured registry host"
	case ErrConnection:
		return "the registry may be down or blocked"
	case ErrTLS:
		return "check system clock and CA trust store"
	case ErrVersionMismatch:
		return "the registry is running an incompatible API version; upgrade the client"
	default:
		return ""
	}
}

// classifyError examines a transport-level error and returns the most
// specific ErrorType it can, walking a tiered unwrap chain (DNS -> TLS
// -> OpError -> url.Error).
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrServerDown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrServerDown
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrTimeout
		}
		return ErrDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ErrTimeout
		}
		var innerDNS *net.DNSError
		if errors.As(opErr.Err, &innerDNS) {
			return ErrDNS
		}
		return ErrConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return ErrTimeout
		}
		msg := urlErr.Err.Error()
		if strings.Contains(msg, "certificate") || strings.Contains(msg, "tls") || strings.Contains(msg, "x509") {
			return ErrTLS
		}
		return classifyError(urlErr.Err)
	}

	return ErrServerDown
}

// wrapNetworkError builds a RegistryError for a transport-level failure.
func wrapNetworkError(err error, message string) *RegistryError {
	return &RegistryError{Type: classifyError(err), Message: message, Err: err}
}

// httpError builds a RegistryError for a well-formed non-2xx response.
func httpError(statusCode int, body, message string) *RegistryError {
	t := ErrHTTP
	if statusCode == 429 {
		t = ErrRateLimit
	}
	return &RegistryError{Type: t, StatusCode: statusCode, Body: body, Message: message}
}
