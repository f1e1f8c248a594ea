package harvest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrNetwork is a transient transport or HTTP failure.
	ErrNetwork = errors.New("network error")
	// ErrRateLimited is a 429 from an upstream service.
	ErrRateLimited = errors.New("rate limited")
	// ErrParse is a single record that could not be extracted.
	ErrParse = errors.New("parse error")
	// ErrSchema is a batch missing a required column.
	ErrSchema = errors.New("schema error")
	// ErrStorage is a backing store failure. It aborts the run.
	ErrStorage = errors.New("storage error")
	// ErrConfig is invalid configuration or a corrupt progress record.
	ErrConfig = errors.New("config error")
	// ErrNotFound is returned by repositories when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
)

// OpError ties a failure to the operation that produced it and its kind.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

// Wrap returns err tagged with kind and op. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// SchemaError reports the required columns a batch did not carry.
type SchemaError struct {
	Batch   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s batch missing required columns: %s", e.Batch, strings.Join(e.Missing, ", "))
}

// Is reports ErrSchema as matching.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// HTTPStatusError is a non-success HTTP response.
type HTTPStatusError struct {
	// Method defaults to GET when empty.
	Method     string
	URL        string
	StatusCode int
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	return fmt.Sprintf("%s %s: unexpected status %d", method, e.URL, e.StatusCode)
}

// Is classifies the status as ErrRateLimited for 429 and ErrNetwork otherwise.
func (e *HTTPStatusError) Is(target error) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return target == ErrRateLimited || target == ErrNetwork
	}
	return target == ErrNetwork
}

// RetryableStatus reports whether code is in the retryable status set.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ParseRetryAfter reads a Retry-After value given either as seconds or as an
// HTTP date. It returns fallback when the header is missing or malformed.
func ParseRetryAfter(value string, now time.Time, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
