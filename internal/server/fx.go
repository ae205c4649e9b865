package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/jdholdren/podcatch/internal/repository"
	"github.com/jdholdren/podcatch/internal/store"
	"github.com/jdholdren/podcatch/internal/view"
)

var Module = fx.Module("server",
	fx.Provide(
		NewFx,
	),
)

type Params struct {
	fx.In

	Config     Config
	Podcasts   *store.Podcasts
	Episodes   *store.Episodes
	Categories *store.Categories
	Repository *repository.Repository
	Home       *view.Home
	Discover   *view.Discover
	Gatherer   prometheus.Gatherer
}

// NewFx builds the server and serves it for as long as the app runs.
func NewFx(lc fx.Lifecycle, p Params) *Server {
	srvr := New(p.Config, Deps{
		Podcasts:   p.Podcasts,
		Episodes:   p.Episodes,
		Categories: p.Categories,
		Repository: p.Repository,
		Home:       p.Home,
		Discover:   p.Discover,
		Gatherer:   p.Gatherer,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srvr.Addr)
			if err != nil {
				return fmt.Errorf("error listening: %w", err)
			}
			go func() {
				if err := srvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("error serving", "error", err)
				}
			}()

			slog.Info("started podcatch server", "port", p.Config.Port)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srvr.Shutdown(ctx)
		},
	})

	return srvr
}
