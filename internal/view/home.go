// Package view assembles the state of each screen from live queries. Every state
// is a [live.Source] that emits again whenever any of its parts changes.
package view

import (
	"context"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/repository"
	"github.com/jdholdren/podcatch/internal/store"
)

const featuredPodcastsLimit = 20

// HomeCategory is a tab of the home screen.
type HomeCategory string

const (
	HomeLibrary  HomeCategory = "library"
	HomeDiscover HomeCategory = "discover"
)

type HomeState struct {
	FeaturedPodcasts     []podcatch.PodcastWithExtraInfo `json:"featured_podcasts"`
	Refreshing           bool                            `json:"refreshing"`
	SelectedHomeCategory HomeCategory                    `json:"selected_home_category"`
	HomeCategories       []HomeCategory                  `json:"home_categories"`
}

// Refresher runs podcast refreshes.
type Refresher interface {
	UpdatePodcasts(ctx context.Context, force bool) (repository.Summary, error)
	Refreshing() *live.Var[bool]
}

type Home struct {
	podcasts  *store.Podcasts
	refresher Refresher

	categories *live.Var[[]HomeCategory]
	selected   *live.Var[HomeCategory]
}

func NewHome(podcasts *store.Podcasts, refresher Refresher) *Home {
	return &Home{
		podcasts:   podcasts,
		refresher:  refresher,
		categories: live.NewVar([]HomeCategory{HomeLibrary, HomeDiscover}),
		selected:   live.NewVar(HomeDiscover),
	}
}

// State emits the home screen: the followed podcasts, most recently updated first,
// and whether a refresh is running.
func (h *Home) State() live.Source[HomeState] {
	return live.Combine4(
		h.categories,
		h.selected,
		h.podcasts.FollowedPodcastsSortedByLastEpisode(featuredPodcastsLimit),
		h.refresher.Refreshing(),
		func(categories []HomeCategory, selected HomeCategory, podcasts []podcatch.PodcastWithExtraInfo, refreshing bool) HomeState {
			return HomeState{
				FeaturedPodcasts:     podcasts,
				Refreshing:           refreshing,
				SelectedHomeCategory: selected,
				HomeCategories:       categories,
			}
		},
	)
}

func (h *Home) SelectCategory(c HomeCategory) {
	h.selected.Set(c)
}

func (h *Home) UnfollowPodcast(ctx context.Context, uri string) error {
	return h.podcasts.UnfollowPodcast(ctx, uri)
}

// Refresh updates the podcasts from their feeds.
func (h *Home) Refresh(ctx context.Context, force bool) (repository.Summary, error) {
	return h.refresher.UpdatePodcasts(ctx, force)
}
