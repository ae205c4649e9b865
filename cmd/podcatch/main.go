// Podcatch keeps a local library of podcasts in step with their feeds and serves
// it, and the screens built on it, over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/podcatch/internal/cache"
	"github.com/jdholdren/podcatch/internal/feed"
	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/metrics"
	"github.com/jdholdren/podcatch/internal/migrations"
	"github.com/jdholdren/podcatch/internal/repository"
	"github.com/jdholdren/podcatch/internal/server"
	"github.com/jdholdren/podcatch/internal/sqlite"
	"github.com/jdholdren/podcatch/internal/store"
	"github.com/jdholdren/podcatch/internal/view"
	"github.com/jdholdren/podcatch/logger"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port       int    `env:"PORT, default=4444"`
	CorsOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	// Fetched while the library is empty
	SeedFeeds []string `env:"SEED_FEEDS"`

	// Zero turns periodic refreshes off
	RefreshInterval  time.Duration `env:"REFRESH_INTERVAL, default=15m"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY, default=4"`
	FetchRetries     uint64        `env:"FETCH_RETRIES, default=2"`
	HostInterval     time.Duration `env:"HOST_INTERVAL, default=500ms"`
	HTTPCacheEntries int           `env:"HTTP_CACHE_ENTRIES, default=256"`
}

var defaultSeedFeeds = []string{
	"https://feeds.npr.org/510289/podcast.xml",
	"https://feeds.npr.org/510318/podcast.xml",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	if len(cfg.SeedFeeds) == 0 {
		cfg.SeedFeeds = defaultSeedFeeds
	}

	l := logger.New(os.Stderr, cfg.LoggerFormat)
	slog.SetDefault(l)

	// Start the application
	fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
		fx.Supply(
			cfg,
			server.Config{
				Port:       cfg.Port,
				CorsOrigin: cfg.CorsOrigin,
			},
			repository.Config{
				Seeds:       cfg.SeedFeeds,
				Concurrency: cfg.FetchConcurrency,
			},
			fx.Annotated{Name: "refresh_interval", Target: cfg.RefreshInterval},
		),
		fx.Provide(
			openDB,
			newFetcher,
			newMetrics,
			store.NewPodcasts,
			store.NewEpisodes,
			store.NewCategories,
			newHome,
			view.NewDiscover,
		),
		repository.Module,
		server.Module,
		fx.Invoke(func(*server.Server) {}), // Start serving
	).Run()
}

// Opens and migrates the database, closing it when the app stops.
func openDB(lc fx.Lifecycle, cfg config) (*sqlite.DB, error) {
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error running migrations: %s", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return dbx.Close()
		},
	})

	return sqlite.New(dbx, live.NewBus()), nil
}

func newFetcher(cfg config) (*feed.Fetcher, error) {
	responses, err := cache.New(cfg.HTTPCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("error creating response cache: %s", err)
	}

	return feed.New(feed.Options{
		Transport:    responses.Transport(http.DefaultTransport),
		Timeout:      cfg.FetchTimeout,
		Retries:      cfg.FetchRetries,
		HostInterval: cfg.HostInterval,
	}), nil
}

func newMetrics() (*metrics.Metrics, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return metrics.New(reg), reg
}

func newHome(podcasts *store.Podcasts, repo *repository.Repository) *view.Home {
	return view.NewHome(podcasts, repo)
}
