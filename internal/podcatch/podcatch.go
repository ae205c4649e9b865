// Package podcatch holds the domain types shared by the stores, the fetcher and the views.
package podcatch

import (
	"time"
)

type (
	// Podcast represents a feed's show-level details. The URI is the feed URL.
	Podcast struct {
		URI         string `json:"uri" db:"uri"`
		Title       string `json:"title" db:"title"`
		Description string `json:"description,omitempty" db:"description"`
		ImageURL    string `json:"image_url,omitempty" db:"image_url"`
		Copyright   string `json:"copyright,omitempty" db:"copyright"`
		Author      string `json:"author,omitempty" db:"author"`
	}

	// Episode is a single item of a podcast feed.
	Episode struct {
		URI        string         `json:"uri"`
		PodcastURI string         `json:"podcast_uri"`
		Title      string         `json:"title"`
		Subtitle   *string        `json:"subtitle,omitempty"`
		Summary    *string        `json:"summary,omitempty"`
		Author     *string        `json:"author,omitempty"`
		Published  time.Time      `json:"published"`
		Duration   *time.Duration `json:"duration,omitempty"`
	}

	Category struct {
		ID   int64  `json:"id" db:"id"`
		Name string `json:"name" db:"name"`
	}

	// CategoryEntry links a podcast to one of its categories.
	CategoryEntry struct {
		ID         int64  `json:"id" db:"id"`
		PodcastURI string `json:"podcast_uri" db:"podcast_uri"`
		CategoryID int64  `json:"category_id" db:"category_id"`
	}

	// FollowedEntry exists for every podcast the user follows.
	FollowedEntry struct {
		ID         int64  `json:"id" db:"id"`
		PodcastURI string `json:"podcast_uri" db:"podcast_uri"`
	}

	// PodcastWithExtraInfo is a podcast joined with values computed at query time.
	PodcastWithExtraInfo struct {
		Podcast         Podcast    `json:"podcast"`
		LastEpisodeDate *time.Time `json:"last_episode_date,omitempty"`
		IsFollowed      bool       `json:"is_followed"`
	}

	// EpisodeToPodcast pairs an episode with the podcast that published it.
	EpisodeToPodcast struct {
		Episode Episode `json:"episode"`
		Podcast Podcast `json:"podcast"`
	}
)

// Tables of the relational schema. Live queries are invalidated by these names.
const (
	TablePodcasts        = "podcasts"
	TableEpisodes        = "episodes"
	TableCategories      = "categories"
	TableCategoryEntries = "podcast_category_entries"
	TableFollowedEntries = "podcast_followed_entries"
)
