package view

import (
	"context"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/store"
)

const (
	categoryPodcastsLimit = 10
	categoryEpisodesLimit = 10
)

type PodcastCategoryState struct {
	TopPodcasts []podcatch.PodcastWithExtraInfo `json:"top_podcasts"`
	Episodes    []podcatch.EpisodeToPodcast     `json:"episodes"`
}

// PodcastCategory shows one category: its podcasts and their latest episodes.
type PodcastCategory struct {
	id         int64
	categories *store.Categories
	podcasts   *store.Podcasts
}

func NewPodcastCategory(id int64, categories *store.Categories, podcasts *store.Podcasts) *PodcastCategory {
	return &PodcastCategory{
		id:         id,
		categories: categories,
		podcasts:   podcasts,
	}
}

func (c *PodcastCategory) State() live.Source[PodcastCategoryState] {
	return live.Combine2(
		c.categories.PodcastsInCategorySortedByPodcastCount(c.id, categoryPodcastsLimit),
		c.categories.EpisodesFromPodcastsInCategory(c.id, categoryEpisodesLimit),
		func(podcasts []podcatch.PodcastWithExtraInfo, episodes []podcatch.EpisodeToPodcast) PodcastCategoryState {
			return PodcastCategoryState{
				TopPodcasts: podcasts,
				Episodes:    episodes,
			}
		},
	)
}

func (c *PodcastCategory) TogglePodcastFollowed(ctx context.Context, uri string) (bool, error) {
	return c.podcasts.TogglePodcastFollowed(ctx, uri)
}
