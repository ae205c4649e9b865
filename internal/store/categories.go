package store

import (
	"context"
	"slices"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/sqlite"
)

// Categories is the category store.
type Categories struct {
	db *sqlite.DB
}

func NewCategories(db *sqlite.DB) *Categories {
	return &Categories{db: db}
}

// CategoriesSortedByPodcastCount emits up to limit categories, the ones holding the
// most podcasts first and ties by name.
func (s *Categories) CategoriesSortedByPodcastCount(limit int) *live.Query[[]podcatch.Category] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) ([]podcatch.Category, error) {
		return s.db.CategoriesByPodcastCount(ctx, limit)
	}, podcatch.TableCategories, podcatch.TableCategoryEntries)
}

// PodcastsInCategorySortedByPodcastCount emits up to limit podcasts of the category,
// ordered like [Podcasts.PodcastsSortedByLastEpisode].
func (s *Categories) PodcastsInCategorySortedByPodcastCount(categoryID int64, limit int) *live.Query[[]podcatch.PodcastWithExtraInfo] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) ([]podcatch.PodcastWithExtraInfo, error) {
		return s.db.PodcastsWithExtraInfo(ctx, sqlite.PodcastsFilter{CategoryID: categoryID, Limit: limit})
	}, slices.Concat(podcastListTables, []string{podcatch.TableCategoryEntries})...)
}

// EpisodesFromPodcastsInCategory emits up to limit episodes of the category's
// podcasts, newest first.
func (s *Categories) EpisodesFromPodcastsInCategory(categoryID int64, limit int) *live.Query[[]podcatch.EpisodeToPodcast] {
	return live.NewQuery(s.db.Bus(), func(ctx context.Context) ([]podcatch.EpisodeToPodcast, error) {
		return s.db.EpisodesInCategory(ctx, categoryID, limit)
	}, podcatch.TableEpisodes, podcatch.TablePodcasts, podcatch.TableCategoryEntries)
}

// AddCategory returns the category named name, creating it if needed.
func (s *Categories) AddCategory(ctx context.Context, name string) (podcatch.Category, error) {
	var c podcatch.Category
	err := s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		var err error
		c, err = tx.InsertCategory(ctx, name)
		return err
	})

	return c, err
}

// AddPodcastToCategory files the podcast under the category.
func (s *Categories) AddPodcastToCategory(ctx context.Context, podcastURI string, categoryID int64) (podcatch.CategoryEntry, error) {
	var entry podcatch.CategoryEntry
	err := s.db.Execute(ctx, func(ctx context.Context, tx *sqlite.Tx) error {
		var err error
		entry, err = tx.UpsertCategoryEntry(ctx, podcastURI, categoryID)
		return err
	})

	return entry, err
}
