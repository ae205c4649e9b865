package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/podcatch/internal/podcatch"
)

// CategoriesByPodcastCount returns the categories that have podcasts, the most
// populated first. Ties are ordered by name.
func (r reader) CategoriesByPodcastCount(ctx context.Context, limit int) ([]podcatch.Category, error) {
	const q = `SELECT c.id, c.name FROM categories AS c
	JOIN podcast_category_entries AS ce ON ce.category_id = c.id
	GROUP BY c.id, c.name
	ORDER BY COUNT(DISTINCT ce.podcast_uri) DESC, c.name ASC
	LIMIT ?;`

	categories := []podcatch.Category{}
	if err := sqlx.SelectContext(ctx, r.ext, &categories, q, limitArg(limit)); err != nil {
		return nil, storeErr("sqlite.CategoriesByPodcastCount", fmt.Errorf("error selecting categories: %w", err))
	}

	return categories, nil
}

type episodeToPodcastRow struct {
	Episode episodeRow       `db:"episode"`
	Podcast podcatch.Podcast `db:"podcast"`
}

// EpisodesInCategory returns the episodes of every podcast in the category, newest
// first, each with its podcast.
func (r reader) EpisodesInCategory(ctx context.Context, categoryID int64, limit int) ([]podcatch.EpisodeToPodcast, error) {
	const q = `SELECT
		e.uri AS "episode.uri",
		e.podcast_uri AS "episode.podcast_uri",
		e.title AS "episode.title",
		e.subtitle AS "episode.subtitle",
		e.summary AS "episode.summary",
		e.author AS "episode.author",
		e.published AS "episode.published",
		e.duration AS "episode.duration",
		p.uri AS "podcast.uri",
		p.title AS "podcast.title",
		p.description AS "podcast.description",
		p.author AS "podcast.author",
		p.image_url AS "podcast.image_url",
		p.copyright AS "podcast.copyright"
	FROM episodes AS e
	JOIN podcast_category_entries AS ce ON ce.podcast_uri = e.podcast_uri
	JOIN podcasts AS p ON p.uri = e.podcast_uri
	WHERE ce.category_id = ?
	ORDER BY e.published DESC, e.uri
	LIMIT ?;`

	var rows []episodeToPodcastRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, q, categoryID, limitArg(limit)); err != nil {
		return nil, storeErr("sqlite.EpisodesInCategory", fmt.Errorf("error selecting episodes in category: %w", err))
	}

	out := make([]podcatch.EpisodeToPodcast, len(rows))
	for i, row := range rows {
		out[i] = podcatch.EpisodeToPodcast{
			Episode: row.Episode.episode(),
			Podcast: row.Podcast,
		}
	}

	return out, nil
}

// CategoryEntries returns every podcast-to-category link, oldest first.
func (r reader) CategoryEntries(ctx context.Context) ([]podcatch.CategoryEntry, error) {
	const q = `SELECT id, podcast_uri, category_id FROM podcast_category_entries ORDER BY id;`

	entries := []podcatch.CategoryEntry{}
	if err := sqlx.SelectContext(ctx, r.ext, &entries, q); err != nil {
		return nil, storeErr("sqlite.CategoryEntries", fmt.Errorf("error selecting category entries: %w", err))
	}

	return entries, nil
}

// CategoryByName returns the category with the given name, or nil.
func (r reader) CategoryByName(ctx context.Context, name string) (*podcatch.Category, error) {
	const q = `SELECT id, name FROM categories WHERE name = ?;`

	var categories []podcatch.Category
	if err := sqlx.SelectContext(ctx, r.ext, &categories, q, name); err != nil {
		return nil, storeErr("sqlite.CategoryByName", fmt.Errorf("error fetching category: %w", err))
	}
	if len(categories) == 0 {
		return nil, nil
	}

	return &categories[0], nil
}

// InsertCategory returns the category named name, creating it if needed.
func (t *Tx) InsertCategory(ctx context.Context, name string) (podcatch.Category, error) {
	const q = `INSERT INTO categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING;`

	res, err := t.tx.ExecContext(ctx, q, name)
	if err != nil {
		return podcatch.Category{}, storeErr("sqlite.InsertCategory", fmt.Errorf("error inserting category: %w", err))
	}
	if changed(res) {
		t.touch(podcatch.TableCategories)
	}

	c, err := t.CategoryByName(ctx, name)
	if err != nil {
		return podcatch.Category{}, err
	}
	if c == nil {
		return podcatch.Category{}, storeErr("sqlite.InsertCategory", fmt.Errorf("category %q missing after insert", name))
	}

	return *c, nil
}

// UpsertCategoryEntry links the podcast to the category. Linking twice is a no-op.
func (t *Tx) UpsertCategoryEntry(ctx context.Context, podcastURI string, categoryID int64) (podcatch.CategoryEntry, error) {
	const (
		insert = `INSERT INTO podcast_category_entries (podcast_uri, category_id) VALUES (?, ?)
		ON CONFLICT(podcast_uri, category_id) DO NOTHING;`
		sel = `SELECT id, podcast_uri, category_id FROM podcast_category_entries
		WHERE podcast_uri = ? AND category_id = ?;`
	)

	res, err := t.tx.ExecContext(ctx, insert, podcastURI, categoryID)
	if err != nil {
		return podcatch.CategoryEntry{}, storeErr("sqlite.UpsertCategoryEntry", fmt.Errorf("error inserting category entry: %w", err))
	}
	if changed(res) {
		t.touch(podcatch.TableCategoryEntries)
	}

	var entry podcatch.CategoryEntry
	if err := t.tx.GetContext(ctx, &entry, sel, podcastURI, categoryID); err != nil {
		return podcatch.CategoryEntry{}, storeErr("sqlite.UpsertCategoryEntry", fmt.Errorf("error fetching category entry: %w", err))
	}

	return entry, nil
}
