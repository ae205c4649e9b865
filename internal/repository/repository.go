// Package repository keeps the stores in step with the podcast feeds: it fetches
// every known feed and writes what changed.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
	"github.com/jdholdren/podcatch/internal/feed"
	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/metrics"
	"github.com/jdholdren/podcatch/internal/sqlite"
	"github.com/jdholdren/podcatch/internal/store"
	"github.com/jdholdren/podcatch/logger"
)

// State is the phase of the refresh cycle.
type State int32

const (
	Idle State = iota
	Fetching
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Fetcher starts feed fetches.
type Fetcher interface {
	Fetch(ctx context.Context, url string, force bool) *feed.Call
}

type Config struct {
	// Seeds are fetched while there are no podcasts stored yet.
	Seeds []string
	// Concurrency bounds the fetches running at once. Defaults to 4.
	Concurrency int
}

// Repository refreshes the stores from the feeds.
type Repository struct {
	db         *sqlite.DB
	podcasts   *store.Podcasts
	episodes   *store.Episodes
	categories *store.Categories
	fetcher    Fetcher
	metrics    *metrics.Metrics

	seeds       []string
	concurrency int

	state      atomic.Int32
	inFlight   atomic.Int64
	refreshing *live.Var[bool]
	group      singleflight.Group

	// Feeds written since start. Only update touches it, and singleflight keeps
	// updates from overlapping.
	committed map[string]struct{}
}

// New builds a repository writing to db. m may be nil.
func New(db *sqlite.DB, fetcher Fetcher, cfg Config, m *metrics.Metrics) *Repository {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	r := &Repository{
		db:          db,
		podcasts:    store.NewPodcasts(db),
		episodes:    store.NewEpisodes(db),
		categories:  store.NewCategories(db),
		fetcher:     fetcher,
		metrics:     m,
		seeds:       cfg.Seeds,
		concurrency: cfg.Concurrency,
		refreshing:  live.NewVar(false),
		committed:   make(map[string]struct{}),
	}
	m.Gauge("fetches_in_flight", "Feed fetches currently running", func() float64 {
		return float64(r.InFlight())
	})

	return r
}

// State returns the current phase of the refresh cycle.
func (r *Repository) State() State {
	return State(r.state.Load())
}

// InFlight returns the number of fetches currently running.
func (r *Repository) InFlight() int64 {
	return r.inFlight.Load()
}

// Refreshing is true while a refresh is running.
func (r *Repository) Refreshing() *live.Var[bool] {
	return r.refreshing
}

// Failure is a feed that could not be refreshed.
type Failure struct {
	URL string
	Err error
}

// Summary describes a finished refresh.
type Summary struct {
	RefreshID string
	Feeds     int
	// Stored counts the feeds written to the stores.
	Stored int
	// Skipped counts the feeds whose cached copy was still current.
	Skipped  int
	Episodes int
	Failures []Failure
}

// Err joins the errors of every failed feed, or returns nil.
func (s Summary) Err() error {
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f.Err
	}

	return errors.Join(errs...)
}

// UpdatePodcasts fetches every stored podcast's feed, or the seed feeds when
// nothing is stored yet, and writes each feed in a transaction of its own.
//
// A feed that fails is reported in the summary and does not stop the others.
// Without force, feeds still fresh in the response cache are not written again,
// as long as an earlier refresh stored them.
//
// A call made while another is running waits for that one and shares its summary.
func (r *Repository) UpdatePodcasts(ctx context.Context, force bool) (Summary, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.update(ctx, force)
	})
	summary, _ := v.(Summary)

	return summary, err
}

type fetched struct {
	url      string
	res      feed.Result
	err      error
	duration time.Duration
}

func (r *Repository) update(ctx context.Context, force bool) (Summary, error) {
	var (
		start   = time.Now()
		summary = Summary{RefreshID: uuid.NewString()}
	)
	ctx = logger.Ctx(ctx, slog.String("refresh_id", summary.RefreshID))

	r.refreshing.Set(true)
	defer r.refreshing.Set(false)
	r.setState(Fetching)
	defer r.setState(Idle)

	urls, err := r.feedURLs(ctx)
	if err != nil {
		return summary, err
	}
	summary.Feeds = len(urls)
	slog.InfoContext(ctx, "refreshing podcasts", "feeds", len(urls), "force", force)

	results := make([]fetched, len(urls))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			r.inFlight.Add(1)
			defer r.inFlight.Add(-1)

			begin := time.Now()
			res, err := r.fetcher.Fetch(ctx, url, force).Wait(ctx)
			results[i] = fetched{url: url, res: res, err: err, duration: time.Since(begin)}

			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("refresh cancelled: %w", err)
	}

	r.setState(Committing)
	for _, f := range results {
		fctx := logger.Ctx(ctx, slog.String("feed_url", f.url))

		if f.err != nil {
			r.fail(fctx, &summary, f, f.err)
			continue
		}
		// A cached body is only current if it made it into the store.
		if _, ok := r.committed[f.url]; ok && f.res.Cached && !force {
			summary.Skipped++
			r.metrics.RecordFeed(metrics.OutcomeCached, f.duration, 0)
			slog.DebugContext(fctx, "feed unchanged")
			continue
		}

		if err := r.commit(fctx, f.res); err != nil {
			r.fail(fctx, &summary, f, pcerrs.WithURL(err, f.url))
			continue
		}
		r.committed[f.url] = struct{}{}
		summary.Stored++
		summary.Episodes += len(f.res.Episodes)
		r.metrics.RecordFeed(metrics.OutcomeStored, f.duration, len(f.res.Episodes))
	}

	r.metrics.RecordRefresh(time.Since(start))
	slog.InfoContext(ctx, "refreshed podcasts",
		"feeds", summary.Feeds,
		"stored", summary.Stored,
		"skipped", summary.Skipped,
		"failed", len(summary.Failures),
		"episodes", summary.Episodes,
		"took", time.Since(start),
	)

	return summary, nil
}

func (r *Repository) feedURLs(ctx context.Context) ([]string, error) {
	empty, err := r.podcasts.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking for podcasts: %w", err)
	}
	if empty {
		return r.seeds, nil
	}

	urls, err := r.podcasts.AllPodcastURIs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing podcasts: %w", err)
	}

	return urls, nil
}

// commit writes one feed: the podcast, its episodes and its categories.
func (r *Repository) commit(ctx context.Context, res feed.Result) error {
	return r.db.Execute(ctx, func(ctx context.Context, _ *sqlite.Tx) error {
		if err := r.podcasts.AddPodcast(ctx, res.Podcast); err != nil {
			return err
		}
		if err := r.episodes.AddEpisodes(ctx, res.Episodes); err != nil {
			return err
		}
		for _, name := range res.Categories {
			c, err := r.categories.AddCategory(ctx, name)
			if err != nil {
				return err
			}
			if _, err := r.categories.AddPodcastToCategory(ctx, res.Podcast.URI, c.ID); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *Repository) fail(ctx context.Context, summary *Summary, f fetched, err error) {
	summary.Failures = append(summary.Failures, Failure{URL: f.url, Err: err})
	slog.ErrorContext(ctx, "error refreshing feed", "error", err)

	outcome := metrics.OutcomeStore
	if kind, ok := pcerrs.KindOf(err); ok {
		switch kind {
		case pcerrs.Network:
			outcome = metrics.OutcomeNetwork
		case pcerrs.Parse:
			outcome = metrics.OutcomeParse
		}
	}
	r.metrics.RecordFeed(outcome, f.duration, 0)
}

// Run refreshes right away and then every interval until ctx is done. A failed
// refresh is logged and retried at the next tick.
func (r *Repository) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.UpdatePodcasts(ctx, false); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "error refreshing podcasts", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Repository) setState(s State) {
	r.state.Store(int32(s))
}
