// Package feed downloads podcast feeds and turns them into podcasts, episodes and
// category names. It never writes to the stores.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/podcatch/internal/cache"
	pcerrs "github.com/jdholdren/podcatch/internal/errors"
	"github.com/jdholdren/podcatch/internal/podcatch"
)

const (
	userAgent = "podcatch/1.0"
	// Feeds larger than this are rejected.
	maxFeedSize = 20 << 20
)

// ErrTooLarge is returned for feeds over the size limit.
var ErrTooLarge = errors.New("feed too large")

// Result is a parsed feed.
type Result struct {
	Podcast    podcatch.Podcast
	Episodes   []podcatch.Episode
	Categories []string
	// Cached is set when the body came from the response cache, either still fresh
	// or confirmed unchanged by the server.
	Cached bool
}

type Options struct {
	// Transport performs the requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Timeout bounds a whole fetch, retries included. Defaults to 30s.
	Timeout time.Duration
	// Retries is how many times a transient failure is retried.
	Retries uint64
	// Backoff is the first delay between retries; it doubles each time. Defaults to 500ms.
	Backoff time.Duration
	// HostInterval is the minimum time between two requests to the same host.
	HostInterval time.Duration
}

// Fetcher fetches feeds. It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	retries uint64
	backoff time.Duration
	hosts   *hostLimiter
	now     func() time.Time
	maxSize int64
}

func New(opts Options) *Fetcher {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}

	return &Fetcher{
		client:  &http.Client{Transport: opts.Transport},
		timeout: opts.Timeout,
		retries: opts.Retries,
		backoff: opts.Backoff,
		hosts:   newHostLimiter(opts.HostInterval),
		now:     time.Now,
		maxSize: maxFeedSize,
	}
}

// Call is a fetch in progress.
type Call struct {
	url       string
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	res Result
	err error
}

// Fetch starts fetching the feed at url and returns straight away. With force set,
// a cached copy is revalidated with the server even if it is still fresh.
func (f *Fetcher) Fetch(ctx context.Context, url string, force bool) *Call {
	ctx, cancel := context.WithCancel(ctx)
	c := &Call{
		url:    url,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		defer cancel()

		c.res, c.err = f.FetchFeed(ctx, url, force)
	}()

	return c
}

// Done is closed once the fetch has finished.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Cancel aborts the fetch. Any body read so far is discarded and Wait reports
// the cancellation, even if the fetch had already finished.
func (c *Call) Cancel() {
	c.cancelled.Store(true)
	c.cancel()
}

// Wait blocks until the fetch is finished or ctx is done.
func (c *Call) Wait(ctx context.Context) (Result, error) {
	const op = pcerrs.Op("feed.Wait")

	select {
	case <-c.done:
	case <-ctx.Done():
		return Result{}, pcerrs.WithURL(pcerrs.E(pcerrs.Network, op, ctx.Err()), c.url)
	}

	if c.cancelled.Load() {
		return Result{}, pcerrs.WithURL(pcerrs.E(pcerrs.Network, op, context.Canceled), c.url)
	}

	return c.res, c.err
}

// FetchFeed fetches and parses the feed at url, blocking until done.
func (f *Fetcher) FetchFeed(ctx context.Context, url string, force bool) (Result, error) {
	const op = pcerrs.Op("feed.FetchFeed")

	body, cached, err := f.download(ctx, url, force)
	if errors.Is(err, ErrTooLarge) {
		return Result{}, pcerrs.WithURL(pcerrs.E(pcerrs.Parse, op, err), url)
	}
	if err != nil {
		return Result{}, pcerrs.WithURL(pcerrs.E(pcerrs.Network, op, err), url)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return Result{}, pcerrs.WithURL(pcerrs.E(pcerrs.Parse, op, fmt.Errorf("error parsing feed: %w", err)), url)
	}

	return Result{
		Podcast:    podcastFromFeed(url, parsed),
		Episodes:   episodesFromItems(url, parsed.Items, f.now()),
		Categories: categoriesFromFeed(parsed),
		Cached:     cached,
	}, nil
}

// StatusError is a response with a status other than 2xx.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

func (e StatusError) transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (f *Fetcher) download(ctx context.Context, url string, force bool) ([]byte, bool, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		body   []byte
		cached bool
	)
	backoff := retry.WithMaxRetries(f.retries, retry.NewExponential(f.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.hosts.wait(ctx, url); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("error building request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
		if force {
			req.Header.Set("Cache-Control", "no-cache")
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("error getting feed url: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			statusErr := StatusError{Code: resp.StatusCode}
			if statusErr.transient() {
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("error reading feed body: %w", err))
		}
		if int64(len(b)) > f.maxSize {
			return fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.maxSize)
		}
		body, cached = b, cache.FromCache(resp)

		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return nil, false, fmt.Errorf("timed out after %s: %w", f.timeout, err)
	}
	if err != nil {
		return nil, false, err
	}

	return body, cached, nil
}
