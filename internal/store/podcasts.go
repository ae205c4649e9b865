// Package store exposes the podcast, episode and category data as live queries and
// the commands that change it.
package store

import (
	"context"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/sqlite"
)

// Podcasts is the podcast store.
type Podcasts struct {
	db *sqlite.DB
}

func NewPodcasts(db *sqlite.DB) *Podcasts {
	return &Podcasts{db: db}
}

// podcastListTables are read by every podcast listing.
var podcastListTables = []string{
	podcatch.TablePodcasts,
	podcatch.TableEpisodes,
	podcatch.TableFollowedEntries,
}

// PodcastByURI emits the podcast with the given URI, or nil while there is none.
func (s *Podcasts) PodcastByURI(uri string) *live.Query[*podcatch.Podcast] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) (*podcatch.Podcast, error) {
		return s.db.PodcastByURI(ctx, uri)
	}, podcatch.TablePodcasts)
}

// PodcastsSortedByLastEpisode emits up to limit podcasts, the most recently
// updated first. limit <= 0 means all of them.
func (s *Podcasts) PodcastsSortedByLastEpisode(limit int) *live.Query[[]podcatch.PodcastWithExtraInfo] {
	return s.list(sqlite.PodcastsFilter{Limit: limit})
}

// FollowedPodcastsSortedByLastEpisode is [Podcasts.PodcastsSortedByLastEpisode]
// restricted to followed podcasts.
func (s *Podcasts) FollowedPodcastsSortedByLastEpisode(limit int) *live.Query[[]podcatch.PodcastWithExtraInfo] {
	return s.list(sqlite.PodcastsFilter{FollowedOnly: true, Limit: limit})
}

func (s *Podcasts) list(filter sqlite.PodcastsFilter) *live.Query[[]podcatch.PodcastWithExtraInfo] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) ([]podcatch.PodcastWithExtraInfo, error) {
		return s.db.PodcastsWithExtraInfo(ctx, filter)
	}, podcastListTables...)
}

// AddPodcast inserts p or updates the stored podcast with the same URI.
func (s *Podcasts) AddPodcast(ctx context.Context, p podcatch.Podcast) error {
	return s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		return tx.UpsertPodcast(ctx, p)
	})
}

// TogglePodcastFollowed follows the podcast if it is not followed and unfollows it
// otherwise. It reports whether the podcast is followed afterwards.
func (s *Podcasts) TogglePodcastFollowed(ctx context.Context, uri string) (bool, error) {
	var followed bool
	err := s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		was, err := tx.IsFollowed(ctx, uri)
		if err != nil {
			return err
		}

		if was {
			_, err = tx.DeleteFollowedEntry(ctx, uri)
		} else {
			_, err = tx.InsertFollowedEntry(ctx, uri)
		}
		followed = !was

		return err
	})
	if err != nil {
		return false, err
	}

	return followed, nil
}

// FollowPodcast follows the podcast. Following twice is a no-op.
func (s *Podcasts) FollowPodcast(ctx context.Context, uri string) error {
	return s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		_, err := tx.InsertFollowedEntry(ctx, uri)
		return err
	})
}

// UnfollowPodcast unfollows the podcast. Unfollowing one that is not followed is a no-op.
func (s *Podcasts) UnfollowPodcast(ctx context.Context, uri string) error {
	return s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		_, err := tx.DeleteFollowedEntry(ctx, uri)
		return err
	})
}

func (s *Podcasts) IsEmpty(ctx context.Context) (bool, error) {
	count, err := s.db.Count(ctx, podcatch.TablePodcasts)
	if err != nil {
		return false, err
	}

	return count == 0, nil
}

// AllPodcastURIs returns the feed URI of every stored podcast.
func (s *Podcasts) AllPodcastURIs(ctx context.Context) ([]string, error) {
	return s.db.PodcastURIs(ctx)
}
