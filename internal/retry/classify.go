// Package retry classifies outbound-call failures into a small taxonomy and
// executes operations under the bounded, type-aware backoff policy shared by
// the source pollers and the webhook dispatcher.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Kind is the failure class of an outbound operation.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindRateLimit   Kind = "rate_limit"
	KindServerError Kind = "server_error"
	KindClientError Kind = "client_error"
	KindDataError   Kind = "data_error"
	KindConfigError Kind = "config_error"
	KindUnknown     Kind = "unknown"
)

// Retryable reports whether operations failing with this kind may be retried
// at all. Data errors are additionally bounded to two attempts by the
// executor.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindServerError, KindDataError:
		return true
	default:
		return false
	}
}

// HTTPError carries a non-2xx response so callers and the classifier can see
// the status code. Body holds at most the first KB of the response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s", e.Status)
	}
	return fmt.Sprintf("http %s: %s", e.Status, e.Body)
}

// RetryableError is returned by the executor when a retryable failure
// exhausted its attempt budget.
type RetryableError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retry: %s failed after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError is returned by the executor for failures that must never be
// retried.
type FatalError struct {
	Kind Kind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("retry: fatal %s error: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Classify maps an arbitrary error onto the taxonomy. Already-classified
// executor errors keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var re *RetryableError
	if errors.As(err, &re) {
		return re.Kind
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return ClassifyStatus(he.StatusCode)
	}

	if errors.Is(err, domain.ErrRateLimited) {
		return KindRateLimit
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}

	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	var num *strconv.NumError
	var tpe *time.ParseError
	if errors.As(err, &syn) || errors.As(err, &typ) || errors.As(err, &num) || errors.As(err, &tpe) {
		return KindDataError
	}

	var pe *fs.PathError
	if errors.As(err, &pe) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return KindConfigError
	}

	return KindUnknown
}

// ClassifyStatus maps an HTTP status code onto the taxonomy.
func ClassifyStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRateLimit
	case code >= 500:
		return KindServerError
	case code >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// Delay returns the backoff before retrying attempt (1-based) for the given
// kind. Rate-limit backoff starts at 5s and doubles, capped at 60s; the other
// retryable kinds start at 1s and double.
func Delay(kind Kind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var base time.Duration
	switch kind {
	case KindRateLimit:
		base = 5 * time.Second
	default:
		base = 1 * time.Second
	}

	d := base << (attempt - 1)
	if kind == KindRateLimit && d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}
