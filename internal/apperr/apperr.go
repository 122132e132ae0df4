package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// Kind classifies a failure so callers can decide on remediation.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingPlaceholder
	KindConfiguration
	KindAuthentication
	KindRateLimit
	KindNetwork
	KindBackend
	KindEmptyResponse
)

func (k Kind) String() string {
	switch k {
	case KindMissingPlaceholder:
		return "missing_placeholder"
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindBackend:
		return "backend"
	case KindEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// maxDetailBytes bounds provider error bodies carried in messages.
const maxDetailBytes = 512

// Error is a classified failure of a single pipeline run.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int           // HTTP status returned by the backend, if any
	RetryAfter time.Duration // parsed from Retry-After on rate limits
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	b.WriteString(msg)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrRateLimit) holds for any
// rate limit error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

var (
	ErrMissingPlaceholder = &Error{Kind: KindMissingPlaceholder}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrRateLimit          = &Error{Kind: KindRateLimit}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrBackend            = &Error{Kind: KindBackend}
	ErrEmptyResponse      = &Error{Kind: KindEmptyResponse}
)

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Configuration reports a missing or invalid local setting.
func Configuration(op, message string) *Error {
	return New(KindConfiguration, op, message)
}

// RequireCredential fails with a configuration error when key is blank.
func RequireCredential(op, key, envName string) error {
	if strings.TrimSpace(key) != "" {
		return nil
	}
	if envName == "" {
		return Configuration(op, "credential is not configured")
	}
	return Configuration(op, fmt.Sprintf("credential is not configured (set %s)", envName))
}

// FromHTTPStatus classifies a non-2xx backend response.
func FromHTTPStatus(op string, status int, detail string, header http.Header) *Error {
	detail = abbreviate(strings.TrimSpace(detail), maxDetailBytes)
	e := &Error{Op: op, StatusCode: status, Message: detail}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindAuthentication
		if e.Message == "" {
			e.Message = "backend rejected the credential"
		}
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(header, time.Now())
		if e.Message == "" {
			e.Message = "backend rate limit reached"
		}
	default:
		e.Kind = KindBackend
		if e.Message == "" {
			e.Message = "backend request failed"
		}
	}
	return e
}

// FromTransport classifies an error returned before any HTTP status was seen.
// Anything not recognized as a timeout or cancellation is still a network error.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case isTimeout(err):
		return Wrap(KindNetwork, op, err, "request timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(KindNetwork, op, err, "request canceled")
	default:
		return Wrap(KindNetwork, op, err, "backend unreachable")
	}
}

// Classify maps an arbitrary client error. Network failures become network
// errors, everything else a backend error.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if isNetworkError(err) {
		return FromTransport(op, err)
	}
	return Wrap(KindBackend, op, err, "backend request failed")
}

// Hint returns a short remediation message for a classified error.
func Hint(err error) string {
	switch KindOf(err) {
	case KindMissingPlaceholder:
		return "The prompt template references a value that was not supplied."
	case KindConfiguration:
		return "Configure the backend credential (environment variable or .env file) and try again."
	case KindAuthentication:
		return "The backend rejected the credential. Check that the API key is valid."
	case KindRateLimit:
		var e *Error
		if errors.As(err, &e) && e.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit reached. Wait %s before retrying.", e.RetryAfter.Round(time.Second))
		}
		return "Rate limit reached. Wait a moment before retrying."
	case KindNetwork:
		return "Could not reach the backend. Check your connection or increase the timeout."
	case KindBackend:
		return "The backend returned an error. Retry later or try another model."
	case KindEmptyResponse:
		return "The backend answered without any text. Try rephrasing the input."
	default:
		return ""
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isNetworkError(err error) bool {
	if isTimeout(err) || errors.Is(err, context.Canceled) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"broken pipe",
		"network is unreachable",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:runeBoundary(s, n)]
	}
	return s[:runeBoundary(s, n-3)] + "..."
}

// runeBoundary backs n off to the start of the rune containing s[n].
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
