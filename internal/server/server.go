// Package server exposes the stores, the refresh cycle and the screen states over
// HTTP. Screen states are streamed as server-sent events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/repository"
	"github.com/jdholdren/podcatch/internal/serverutil"
	"github.com/jdholdren/podcatch/internal/sqlite"
	"github.com/jdholdren/podcatch/internal/store"
	"github.com/jdholdren/podcatch/internal/view"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	heartbeatInterval = 15 * time.Second
)

type (
	// Server is the HTTP adapter in front of the podcast stores.
	Server struct {
		*http.Server

		podcasts   *store.Podcasts
		episodes   *store.Episodes
		categories *store.Categories
		repo       *repository.Repository
		home       *view.Home
		discover   *view.Discover
	}

	Config struct {
		Port       int
		CorsOrigin string
	}

	// Deps are the parts of the application the server is a front for.
	Deps struct {
		Podcasts   *store.Podcasts
		Episodes   *store.Episodes
		Categories *store.Categories
		Repository *repository.Repository
		Home       *view.Home
		Discover   *view.Discover
		Gatherer   prometheus.Gatherer
	}
)

func New(config Config, deps Deps) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	origin := config.CorsOrigin
	if origin == "" {
		origin = "*"
	}

	srvr := Server{
		podcasts:   deps.Podcasts,
		episodes:   deps.Episodes,
		categories: deps.Categories,
		repo:       deps.Repository,
		home:       deps.Home,
		discover:   deps.Discover,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// Streams and refreshes clear this per request.
			WriteTimeout: 10 * time.Second,
			Handler: handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
				handlers.CORS(
					handlers.AllowedOrigins([]string{origin}),
					handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
					handlers.AllowedHeaders([]string{"content-type"}),
				)(r),
			),
		},
	}

	// Streams only end with their request, so every request ends once shutdown starts.
	base, cancel := context.WithCancel(context.Background())
	srvr.BaseContext = func(net.Listener) context.Context { return base }
	srvr.RegisterOnShutdown(cancel)

	r.Use(serverutil.AccessLogMiddleware)

	// Plain reads
	r.HandleFuncE("/v1/podcasts", srvr.getPodcasts).Methods(http.MethodGet)
	r.HandleFuncE("/v1/podcast", srvr.getPodcast).Methods(http.MethodGet)
	r.HandleFuncE("/v1/episodes", srvr.getEpisodes).Methods(http.MethodGet)
	r.HandleFuncE("/v1/categories", srvr.getCategories).Methods(http.MethodGet)
	r.HandleFuncE("/v1/categories/{categoryID}/podcasts", srvr.getCategoryPodcasts).Methods(http.MethodGet)
	r.HandleFuncE("/v1/categories/{categoryID}/episodes", srvr.getCategoryEpisodes).Methods(http.MethodGet)

	// Follows
	r.HandleFuncE("/v1/follows", srvr.putFollow).Methods(http.MethodPut)
	r.HandleFuncE("/v1/follows", srvr.deleteFollow).Methods(http.MethodDelete)
	r.HandleFuncE("/v1/follows/toggle", srvr.postToggleFollow).Methods(http.MethodPost)

	// Refresh cycle
	r.HandleFuncE("/v1/refresh", srvr.getRefresh).Methods(http.MethodGet)
	r.HandleFuncE("/v1/refresh", srvr.postRefresh).Methods(http.MethodPost)

	// Screen states
	r.HandleFuncE("/v1/views/home", srvr.streamHome).Methods(http.MethodGet)
	r.HandleFuncE("/v1/views/home/select", srvr.postHomeSelect).Methods(http.MethodPost)
	r.HandleFuncE("/v1/views/discover", srvr.streamDiscover).Methods(http.MethodGet)
	r.HandleFuncE("/v1/views/discover/select", srvr.postDiscoverSelect).Methods(http.MethodPost)
	r.HandleFuncE("/v1/views/categories/{categoryID}", srvr.streamCategory).Methods(http.MethodGet)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	slog.Debug("configured podcatch server", "port", config.Port)

	return &srvr
}

func (s Server) getPodcasts(w http.ResponseWriter, r *http.Request) error {
	limit, err := serverutil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		return err
	}
	followed, err := serverutil.QueryBool(r, "followed")
	if err != nil {
		return err
	}

	q := s.podcasts.PodcastsSortedByLastEpisode(limit)
	if followed {
		q = s.podcasts.FollowedPodcastsSortedByLastEpisode(limit)
	}
	podcasts, err := q.Get(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, podcasts)
}

func (s Server) getPodcast(w http.ResponseWriter, r *http.Request) error {
	uri, err := serverutil.QueryRequired(r, "uri")
	if err != nil {
		return err
	}

	p, err := s.podcasts.PodcastByURI(uri).Get(r.Context())
	if err != nil {
		return err
	}
	if p == nil {
		return pcerrs.E(pcerrs.NotFound, fmt.Sprintf("no podcast %s", uri))
	}

	return serverutil.WriteJSON(w, http.StatusOK, p)
}

func (s Server) getEpisodes(w http.ResponseWriter, r *http.Request) error {
	uri, err := serverutil.QueryRequired(r, "podcast_uri")
	if err != nil {
		return err
	}
	limit, err := serverutil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		return err
	}

	episodes, err := s.episodes.EpisodesInPodcast(uri, limit).Get(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, episodes)
}

func (s Server) getCategories(w http.ResponseWriter, r *http.Request) error {
	limit, err := serverutil.QueryLimit(r, maxListLimit, maxListLimit)
	if err != nil {
		return err
	}

	categories, err := s.categories.CategoriesSortedByPodcastCount(limit).Get(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, categories)
}

func (s Server) getCategoryPodcasts(w http.ResponseWriter, r *http.Request) error {
	id, err := categoryID(r)
	if err != nil {
		return err
	}
	limit, err := serverutil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		return err
	}

	podcasts, err := s.categories.PodcastsInCategorySortedByPodcastCount(id, limit).Get(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, podcasts)
}

func (s Server) getCategoryEpisodes(w http.ResponseWriter, r *http.Request) error {
	id, err := categoryID(r)
	if err != nil {
		return err
	}
	limit, err := serverutil.QueryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		return err
	}

	episodes, err := s.categories.EpisodesFromPodcastsInCategory(id, limit).Get(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, episodes)
}

type followResp struct {
	URI      string `json:"uri"`
	Followed bool   `json:"followed"`
}

func (s Server) putFollow(w http.ResponseWriter, r *http.Request) error {
	uri, err := serverutil.QueryRequired(r, "uri")
	if err != nil {
		return err
	}

	if err := s.podcasts.FollowPodcast(r.Context(), uri); err != nil {
		return unknownPodcast(err, uri)
	}

	return serverutil.WriteJSON(w, http.StatusOK, followResp{URI: uri, Followed: true})
}

func (s Server) deleteFollow(w http.ResponseWriter, r *http.Request) error {
	uri, err := serverutil.QueryRequired(r, "uri")
	if err != nil {
		return err
	}

	if err := s.home.UnfollowPodcast(r.Context(), uri); err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, followResp{URI: uri, Followed: false})
}

func (s Server) postToggleFollow(w http.ResponseWriter, r *http.Request) error {
	uri, err := serverutil.QueryRequired(r, "uri")
	if err != nil {
		return err
	}

	followed, err := s.podcasts.TogglePodcastFollowed(r.Context(), uri)
	if err != nil {
		return unknownPodcast(err, uri)
	}

	return serverutil.WriteJSON(w, http.StatusOK, followResp{URI: uri, Followed: followed})
}

type refreshStatusResp struct {
	State      string `json:"state"`
	InFlight   int64  `json:"in_flight"`
	Refreshing bool   `json:"refreshing"`
}

func (s Server) getRefresh(w http.ResponseWriter, _ *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, refreshStatusResp{
		State:      s.repo.State().String(),
		InFlight:   s.repo.InFlight(),
		Refreshing: s.repo.Refreshing().Get(),
	})
}

type (
	refreshResp struct {
		RefreshID string        `json:"refresh_id"`
		Feeds     int           `json:"feeds"`
		Stored    int           `json:"stored"`
		Skipped   int           `json:"skipped"`
		Episodes  int           `json:"episodes"`
		Failures  []failureResp `json:"failures"`
	}

	failureResp struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	}
)

func (s Server) postRefresh(w http.ResponseWriter, r *http.Request) error {
	force, err := serverutil.QueryBool(r, "force")
	if err != nil {
		return err
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.WarnContext(r.Context(), "could not clear write deadline", "error", err)
	}

	// Other callers may share this cycle, so a client going away doesn't end it.
	summary, err := s.home.Refresh(context.WithoutCancel(r.Context()), force)
	if err != nil {
		return err
	}

	resp := refreshResp{
		RefreshID: summary.RefreshID,
		Feeds:     summary.Feeds,
		Stored:    summary.Stored,
		Skipped:   summary.Skipped,
		Episodes:  summary.Episodes,
		Failures:  make([]failureResp, 0, len(summary.Failures)),
	}
	for _, f := range summary.Failures {
		resp.Failures = append(resp.Failures, failureResp{URL: f.URL, Error: f.Err.Error()})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

func (s Server) streamHome(w http.ResponseWriter, r *http.Request) error {
	return stream(w, r, s.home.State())
}

func (s Server) postHomeSelect(w http.ResponseWriter, r *http.Request) error {
	raw, err := serverutil.QueryRequired(r, "category")
	if err != nil {
		return err
	}

	c := view.HomeCategory(raw)
	switch c {
	case view.HomeLibrary, view.HomeDiscover:
	default:
		return pcerrs.E(pcerrs.Invalid, fmt.Sprintf("unknown home category %q", raw))
	}
	s.home.SelectCategory(c)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) streamDiscover(w http.ResponseWriter, r *http.Request) error {
	return stream(w, r, s.discover.State())
}

func (s Server) postDiscoverSelect(w http.ResponseWriter, r *http.Request) error {
	raw, err := serverutil.QueryRequired(r, "id")
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return pcerrs.E(pcerrs.Invalid, "id must be an integer")
	}

	categories, err := s.categories.CategoriesSortedByPodcastCount(0).Get(r.Context())
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ID == id {
			s.discover.SelectCategory(c)
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
	}

	return pcerrs.E(pcerrs.NotFound, fmt.Sprintf("no category %d", id))
}

func (s Server) streamCategory(w http.ResponseWriter, r *http.Request) error {
	id, err := categoryID(r)
	if err != nil {
		return err
	}

	return stream(w, r, view.NewPodcastCategory(id, s.categories, s.podcasts).State())
}

// stream writes every value of src as an event until the client goes away.
func stream[T any](w http.ResponseWriter, r *http.Request, src live.Source[T]) error {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.WarnContext(r.Context(), "could not clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := src.Subscribe(r.Context())
	defer sub.Close()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case v, ok := <-sub.C():
			if !ok {
				streamEnded(w, r, sub.Err())
				return nil
			}
			err = serverutil.WriteEvent(w, "state", v)
		case <-heartbeat.C:
			err = serverutil.WriteComment(w, "ping")
		}
		if err != nil {
			// The client is gone
			slog.DebugContext(r.Context(), "stopped streaming", "error", err)
			return nil
		}
	}
}

// streamEnded reports the failure that ended a stream, if any. The headers are
// already out, so it can only go in the stream itself.
func streamEnded(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	slog.ErrorContext(r.Context(), "stream failed", "error", err)

	pcErr := &pcerrs.Error{}
	if !errors.As(err, &pcErr) {
		pcErr = pcerrs.E(err)
	}
	if err := serverutil.WriteEvent(w, "error", pcErr); err != nil {
		slog.DebugContext(r.Context(), "could not report stream failure", "error", err)
	}
}

func categoryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["categoryID"], 10, 64)
	if err != nil {
		return 0, pcerrs.E(pcerrs.Invalid, "category id must be an integer")
	}

	return id, nil
}

// unknownPodcast turns the foreign key failure of following a podcast that isn't
// stored into a not found.
func unknownPodcast(err error, uri string) error {
	if errors.Is(err, sqlite.ErrConstraint) {
		return pcerrs.E(pcerrs.NotFound, fmt.Sprintf("no podcast %s", uri))
	}

	return err
}
