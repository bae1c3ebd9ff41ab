package firecrawl

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval   time.Duration
	timeout    time.Duration
	onProgress func(total, completed int)
	sleep      func(ctx context.Context, d time.Duration) error
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		interval: defaultPollInterval,
		timeout:  defaultPollTimeout,
		sleep:    sleepCtx,
	}
}

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPollTimeout overrides the default wall-clock deadline (applied only if
// the parent context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollProgress registers a callback invoked after every poll that
// reports observable progress, so callers can surface motion before the
// crawl completes.
func WithPollProgress(fn func(total, completed int)) PollOption {
	return func(c *pollConfig) {
		c.onProgress = fn
	}
}

// WithPollSleep replaces the inter-poll sleep. Tests use this to step the
// loop without real timers.
func WithPollSleep(fn func(ctx context.Context, d time.Duration) error) PollOption {
	return func(c *pollConfig) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// PollCrawl polls GetCrawlStatus on a fixed interval until the crawl
// completes, fails, or the deadline passes.
func PollCrawl(ctx context.Context, client Client, id string, opts ...PollOption) (*CrawlStatusResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	for {
		status, err := client.GetCrawlStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("firecrawl: poll crawl %s", id))
		}

		if cfg.onProgress != nil && (status.Total > 0 || status.Completed > 0) {
			cfg.onProgress(status.Total, status.Completed)
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed":
			return nil, eris.Errorf("firecrawl: crawl %s failed", id)
		}

		if err := cfg.sleep(ctx, cfg.interval); err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("firecrawl: poll crawl %s timed out", id))
		}
	}
}
