package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSleeper records requested backoff delays instead of sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func newTestExecutor(maxAttempts int) (*Executor, *fakeSleeper) {
	e := NewExecutor(maxAttempts, testLogger())
	sl := &fakeSleeper{}
	e.sleep = sl.sleep
	return e, sl
}

func TestClassify(t *testing.T) {
	jsonErr := json.Unmarshal([]byte("{"), &map[string]any{})
	if jsonErr == nil {
		t.Fatal("expected malformed JSON to fail")
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"http 429", &HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, KindRateLimit},
		{"http 500", &HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, KindServerError},
		{"http 503 wrapped", fmt.Errorf("source: fetch: %w", &HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}), KindServerError},
		{"http 404", &HTTPError{StatusCode: 404, Status: "404 Not Found"}, KindClientError},
		{"http 400", &HTTPError{StatusCode: 400, Status: "400 Bad Request"}, KindClientError},
		{"rate limited sentinel", fmt.Errorf("limiter: %w", domain.ErrRateLimited), KindRateLimit},
		{"deadline exceeded", context.DeadlineExceeded, KindNetwork},
		{"url error", &url.Error{Op: "Get", URL: "https://api.example.com/markets", Err: errors.New("connection refused")}, KindNetwork},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "api.example.com", IsTimeout: true}, KindNetwork},
		{"json syntax", jsonErr, KindDataError},
		{"json type", &json.UnmarshalTypeError{Value: "string", Offset: 12}, KindDataError},
		{"missing file", &fs.PathError{Op: "open", Path: "config.toml", Err: fs.ErrNotExist}, KindConfigError},
		{"permission", fmt.Errorf("load key: %w", fs.ErrPermission), KindConfigError},
		{"plain error", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyKeepsExecutorKind(t *testing.T) {
	inner := &RetryableError{Kind: KindRateLimit, Attempts: 5, Err: errors.New("throttled")}
	if got := Classify(fmt.Errorf("dispatch: %w", inner)); got != KindRateLimit {
		t.Errorf("Classify(wrapped RetryableError) = %s, want %s", got, KindRateLimit)
	}
	fatal := &FatalError{Kind: KindConfigError, Err: errors.New("bad key")}
	if got := Classify(fatal); got != KindConfigError {
		t.Errorf("Classify(FatalError) = %s, want %s", got, KindConfigError)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindNetwork, KindRateLimit, KindServerError, KindDataError}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s.Retryable() = false, want true", k)
		}
	}
	fatal := []Kind{KindClientError, KindConfigError, KindUnknown}
	for _, k := range fatal {
		if k.Retryable() {
			t.Errorf("%s.Retryable() = true, want false", k)
		}
	}
}

func TestDelay(t *testing.T) {
	tests := []struct {
		kind    Kind
		attempt int
		want    time.Duration
	}{
		{KindRateLimit, 1, 5 * time.Second},
		{KindRateLimit, 2, 10 * time.Second},
		{KindRateLimit, 3, 20 * time.Second},
		{KindRateLimit, 4, 40 * time.Second},
		{KindRateLimit, 5, 60 * time.Second},
		{KindRateLimit, 8, 60 * time.Second},
		{KindNetwork, 1, 1 * time.Second},
		{KindNetwork, 2, 2 * time.Second},
		{KindNetwork, 3, 4 * time.Second},
		{KindServerError, 4, 8 * time.Second},
		{KindDataError, 1, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_attempt_%d", tt.kind, tt.attempt), func(t *testing.T) {
			if got := Delay(tt.kind, tt.attempt); got != tt.want {
				t.Errorf("Delay(%s, %d) = %s, want %s", tt.kind, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExecutorClientErrorIsFatal(t *testing.T) {
	exec, sleeper := newTestExecutor(5)

	calls := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: 404, Status: "404 Not Found"}
	})

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Kind != KindClientError {
		t.Errorf("kind = %s, want %s", fatal.Kind, KindClientError)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %d times, want 0", len(sleeper.delays))
	}
}

func TestExecutorExhaustsBudget(t *testing.T) {
	exec, sleeper := newTestExecutor(3)

	calls := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}
	})

	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if re.Kind != KindServerError {
		t.Errorf("kind = %s, want %s", re.Kind, KindServerError)
	}
	if re.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", re.Attempts)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, sleeper.delays[i], want[i])
		}
	}
}

func TestExecutorDataErrorBoundedToTwoAttempts(t *testing.T) {
	exec, _ := newTestExecutor(5)

	calls := 0
	err := exec.Do(context.Background(), "parse", func(ctx context.Context) error {
		calls++
		return json.Unmarshal([]byte("not json"), &map[string]any{})
	})

	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if re.Kind != KindDataError {
		t.Errorf("kind = %s, want %s", re.Kind, KindDataError)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecutorSucceedsAfterRetries(t *testing.T) {
	exec, sleeper := newTestExecutor(5)

	calls := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, sleeper.delays[i], want[i])
		}
	}
}

func TestExecutorHonorsCanceledContext(t *testing.T) {
	exec, _ := newTestExecutor(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := exec.Do(ctx, "fetch", func(ctx context.Context) error {
		calls++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestExecutorStopsWhenSleepInterrupted(t *testing.T) {
	exec := NewExecutor(5, testLogger())
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
