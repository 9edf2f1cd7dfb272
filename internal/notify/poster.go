package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      1 * time.Second,
	rateBurst:         1,
	backoffInitial:    1 * time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type retryAfterError struct {
	wait time.Duration
	err  error
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// eventPoster posts JSON payloads with rate limiting per stack and a bounded
// retry loop. Retries are driven here, not inside retryablehttp, so the
// Retry-After header can be honored.
type eventPoster struct {
	logger    zerolog.Logger
	target    string
	url       string
	client    *retryablehttp.Client
	timing    timingConfig
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func newEventPoster(logger zerolog.Logger, target, url string, timing timingConfig) *eventPoster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &eventPoster{
		logger:   logger,
		target:   target,
		url:      url,
		client:   client,
		timing:   timing,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *eventPoster) wait(ctx context.Context, stack string) error {
	p.limiterMu.Lock()
	limiter, ok := p.limiters[stack]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
		p.limiters[stack] = limiter
	}
	p.limiterMu.Unlock()
	return limiter.Wait(ctx)
}

func (p *eventPoster) post(ctx context.Context, payload []byte) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = p.timing.backoffInitial
	backoffCfg.MaxInterval = p.timing.backoffMax
	backoffCfg.MaxElapsedTime = p.timing.backoffMaxElapsed
	backoffCfg.Reset()

	for {
		err := p.postOnce(ctx, payload)
		if err == nil {
			return nil
		}

		var after *retryAfterError
		if errors.As(err, &after) {
			if !sleepWithContext(ctx, after.wait) {
				return ctx.Err()
			}
			continue
		}

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return err
		}
		next := backoffCfg.NextBackOff()
		if next == backoff.Stop {
			return err
		}
		if !sleepWithContext(ctx, next) {
			return ctx.Err()
		}
	}
}

func (p *eventPoster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.target, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%s request failed: %w", p.target, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	bodyText := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{wait: wait, err: fmt.Errorf("%s rate limited: %s", p.target, resp.Status)}
		}
		return &retryableError{err: fmt.Errorf("%s rate limited: %s", p.target, resp.Status)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("%s server error: %s", p.target, resp.Status)}
	case bodyText != "":
		return fmt.Errorf("%s request failed: %s (%s)", p.target, resp.Status, bodyText)
	default:
		return fmt.Errorf("%s request failed: %s", p.target, resp.Status)
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
