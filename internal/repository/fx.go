package repository

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/jdholdren/podcatch/internal/feed"
	"github.com/jdholdren/podcatch/internal/metrics"
	"github.com/jdholdren/podcatch/internal/sqlite"
)

var Module = fx.Module("repository",
	fx.Provide(
		NewFx,
	),
)

type Params struct {
	fx.In

	Config   Config
	DB       *sqlite.DB
	Fetcher  *feed.Fetcher
	Metrics  *metrics.Metrics
	Interval time.Duration `name:"refresh_interval"`
}

// NewFx builds the repository and ties its periodic refresh to the app's lifecycle.
// A zero interval leaves refreshing to the callers of UpdatePodcasts.
func NewFx(lc fx.Lifecycle, p Params) *Repository {
	r := New(p.DB, p.Fetcher, p.Config, p.Metrics)
	if p.Interval <= 0 {
		return r
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := r.Run(ctx, p.Interval); err != nil {
					slog.Error("error running refreshes", "error", err)
				}
			}()
			slog.Debug("started periodic refresh", "interval", p.Interval)

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})

	return r
}
