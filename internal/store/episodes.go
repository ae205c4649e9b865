package store

import (
	"context"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/sqlite"
)

// Episodes is the episode store.
type Episodes struct {
	db *sqlite.DB
}

func NewEpisodes(db *sqlite.DB) *Episodes {
	return &Episodes{db: db}
}

// EpisodesInPodcast emits up to limit episodes of the podcast, newest first.
func (s *Episodes) EpisodesInPodcast(podcastURI string, limit int) *live.Query[[]podcatch.Episode] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) ([]podcatch.Episode, error) {
		return s.db.EpisodesForPodcast(ctx, podcastURI, limit)
	}, podcatch.TableEpisodes)
}

// AddEpisodes stores all of the episodes or none of them. Called inside another
// transaction, it becomes part of it.
func (s *Episodes) AddEpisodes(ctx context.Context, episodes []podcatch.Episode) error {
	return s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		return tx.UpsertEpisodes(ctx, episodes)
	})
}

func (s *Episodes) IsEmpty(ctx context.Context) (bool, error) {
	count, err := s.db.Count(ctx, podcatch.TableEpisodes)
	if err != nil {
		return false, err
	}

	return count == 0, nil
}
