package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/worklog-sh/worklog/logging"
)

// ErrQueueCleared is returned for requests rejected by ClearQueue.
var ErrQueueCleared = errors.New("request queue cleared")

// RateLimitError signals an HTTP 429 from the platform. RetryAfter is the
// server-provided wait; zero means unspecified.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "ratelimited"
}

// FatalError marks an error that must not be retried (auth, not-found,
// schema). The adapter wraps permanent platform errors with it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

const defaultRetryAfter = 60 * time.Second

// LimiterOptions tunes the executor.
type LimiterOptions struct {
	RequestsPerSecond int
	QueueSize         int
	MaxRetries        int
	InitialBackoff    time.Duration
}

// Limiter executes thunks under a process-wide token bucket with bounded
// queueing, retry with exponential backoff for transient failures, and
// retry-after handling for 429s.
type Limiter struct {
	bucket *rate.Limiter
	slots  chan struct{}

	maxRetries     int
	initialBackoff time.Duration

	mu      sync.Mutex
	cleared chan struct{} // closed by ClearQueue
	done    bool
}

// NewLimiter creates a Limiter. Zero options get sane defaults.
func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	return &Limiter{
		bucket:         rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestsPerSecond),
		slots:          make(chan struct{}, opts.QueueSize),
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		cleared:        make(chan struct{}),
	}
}

// Execute enqueues fn, waits its turn under the rate limit, runs it, and
// retries according to the error class. Transient failures retry up to
// MaxRetries with exponential backoff; 429s wait retry-after (60s default)
// and do not count against the retry budget; fatal errors surface
// immediately.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	select {
	case <-l.cleared:
		return ErrQueueCleared
	case <-ctx.Done():
		return ctx.Err()
	case l.slots <- struct{}{}:
	}
	defer func() { <-l.slots }()

	attempts := 0
	backoff := l.initialBackoff
	for {
		select {
		case <-l.cleared:
			return ErrQueueCleared
		default:
		}
		if err := l.bucket.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		switch classifyError(err) {
		case errKindRateLimited:
			wait := retryAfter(err)
			logging.Warn("rate limited, waiting before retry", "wait", wait.String())
			if err := sleepCtx(ctx, l.cleared, wait); err != nil {
				return err
			}
		case errKindTransient:
			attempts++
			if attempts > l.maxRetries {
				return err
			}
			logging.Debug("transient error, backing off", "attempt", attempts, "backoff", backoff.String(), "error", err.Error())
			if err := sleepCtx(ctx, l.cleared, backoff); err != nil {
				return err
			}
			backoff *= 2
		default:
			return err
		}
	}
}

// ClearQueue rejects all pending and future requests. In-flight calls are
// not interrupted; they finish and their retries are rejected.
func (l *Limiter) ClearQueue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.done = true
		close(l.cleared)
	}
}

func sleepCtx(ctx context.Context, cleared <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cleared:
		return ErrQueueCleared
	case <-t.C:
		return nil
	}
}

type errKind int

const (
	errKindFatal errKind = iota
	errKindTransient
	errKindRateLimited
)

var transientFragments = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"connection reset by peer",
	"i/o timeout",
	"unexpected EOF",
	"TLS handshake timeout",
	"no such host",
	"server_error",
	"internal_error",
	"service_unavailable",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

func classifyError(err error) errKind {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return errKindRateLimited
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return errKindFatal
	}
	msg := err.Error()
	if strings.Contains(msg, "ratelimited") || strings.Contains(msg, "429") {
		return errKindRateLimited
	}
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return errKindTransient
		}
	}
	return errKindFatal
}

func retryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return defaultRetryAfter
}
