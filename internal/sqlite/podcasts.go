package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/podcatch/internal/podcatch"
)

// PodcastByURI returns the podcast with the given feed URI, or nil if there is none.
func (r reader) PodcastByURI(ctx context.Context, uri string) (*podcatch.Podcast, error) {
	const q = `SELECT uri, title, description, author, image_url, copyright FROM podcasts WHERE uri = ?;`

	var p podcatch.Podcast
	err := sqlx.GetContext(ctx, r.ext, &p, q, uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("sqlite.PodcastByURI", fmt.Errorf("error fetching podcast: %w", err))
	}

	return &p, nil
}

// PodcastURIs returns the URI of every stored podcast.
func (r reader) PodcastURIs(ctx context.Context) ([]string, error) {
	const q = `SELECT uri FROM podcasts ORDER BY uri;`

	uris := []string{}
	if err := sqlx.SelectContext(ctx, r.ext, &uris, q); err != nil {
		return nil, storeErr("sqlite.PodcastURIs", fmt.Errorf("error selecting podcast uris: %w", err))
	}

	return uris, nil
}

// PodcastsFilter narrows [reader.PodcastsWithExtraInfo].
type PodcastsFilter struct {
	FollowedOnly bool
	// Zero means any category.
	CategoryID int64
	// Zero or less means no limit.
	Limit int
}

type podcastExtraRow struct {
	podcatch.Podcast
	LastEpisodeDate sql.NullInt64 `db:"last_episode_date"`
	IsFollowed      bool          `db:"is_followed"`
}

// PodcastsWithExtraInfo lists podcasts with their latest episode date and followed
// state, newest first. Podcasts without episodes come last; ties break on URI.
func (r reader) PodcastsWithExtraInfo(ctx context.Context, filter PodcastsFilter) ([]podcatch.PodcastWithExtraInfo, error) {
	q := sq.Select(
		"p.uri", "p.title", "p.description", "p.author", "p.image_url", "p.copyright",
		"le.last_episode_date",
		"f.id IS NOT NULL AS is_followed",
	).
		From("podcasts AS p").
		LeftJoin("(SELECT podcast_uri, MAX(published) AS last_episode_date FROM episodes GROUP BY podcast_uri) AS le ON le.podcast_uri = p.uri").
		LeftJoin("podcast_followed_entries AS f ON f.podcast_uri = p.uri")
	if filter.CategoryID != 0 {
		q = q.Join("podcast_category_entries AS ce ON ce.podcast_uri = p.uri").
			Where(sq.Eq{"ce.category_id": filter.CategoryID})
	}
	if filter.FollowedOnly {
		q = q.Where("f.id IS NOT NULL")
	}
	q = q.OrderBy("le.last_episode_date IS NULL", "le.last_episode_date DESC", "p.uri")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []podcastExtraRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, args...); err != nil {
		return nil, storeErr("sqlite.PodcastsWithExtraInfo", fmt.Errorf("error selecting podcasts: %w", err))
	}

	podcasts := make([]podcatch.PodcastWithExtraInfo, len(rows))
	for i, row := range rows {
		podcasts[i] = podcatch.PodcastWithExtraInfo{
			Podcast:    row.Podcast,
			IsFollowed: row.IsFollowed,
		}
		if row.LastEpisodeDate.Valid {
			t := fromMillis(row.LastEpisodeDate.Int64)
			podcasts[i].LastEpisodeDate = &t
		}
	}

	return podcasts, nil
}

// IsFollowed reports whether a followed entry exists for the podcast.
func (r reader) IsFollowed(ctx context.Context, podcastURI string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM podcast_followed_entries WHERE podcast_uri = ?);`

	var followed bool
	if err := sqlx.GetContext(ctx, r.ext, &followed, q, podcastURI); err != nil {
		return false, storeErr("sqlite.IsFollowed", fmt.Errorf("error checking followed entry: %w", err))
	}

	return followed, nil
}

// FollowedEntries returns every followed entry, oldest first.
func (r reader) FollowedEntries(ctx context.Context) ([]podcatch.FollowedEntry, error) {
	const q = `SELECT id, podcast_uri FROM podcast_followed_entries ORDER BY id;`

	entries := []podcatch.FollowedEntry{}
	if err := sqlx.SelectContext(ctx, r.ext, &entries, q); err != nil {
		return nil, storeErr("sqlite.FollowedEntries", fmt.Errorf("error selecting followed entries: %w", err))
	}

	return entries, nil
}

// UpsertPodcast inserts p, or updates the stored podcast with the same URI in place.
// Rows that depend on the podcast are left alone.
func (t *Tx) UpsertPodcast(ctx context.Context, p podcatch.Podcast) error {
	const q = `INSERT INTO podcasts (uri, title, description, author, image_url, copyright)
	VALUES (:uri, :title, :description, :author, :image_url, :copyright)
	ON CONFLICT(uri) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		author = excluded.author,
		image_url = excluded.image_url,
		copyright = excluded.copyright
	WHERE podcasts.title IS NOT excluded.title
		OR podcasts.description IS NOT excluded.description
		OR podcasts.author IS NOT excluded.author
		OR podcasts.image_url IS NOT excluded.image_url
		OR podcasts.copyright IS NOT excluded.copyright;`

	res, err := t.tx.NamedExecContext(ctx, q, p)
	if err != nil {
		return storeErr("sqlite.UpsertPodcast", fmt.Errorf("error upserting podcast: %w", err))
	}
	if changed(res) {
		t.touch(podcatch.TablePodcasts)
	}

	return nil
}

// InsertFollowedEntry follows the podcast. It reports false if it was already followed.
func (t *Tx) InsertFollowedEntry(ctx context.Context, podcastURI string) (bool, error) {
	const q = `INSERT INTO podcast_followed_entries (podcast_uri) VALUES (?) ON CONFLICT(podcast_uri) DO NOTHING;`

	res, err := t.tx.ExecContext(ctx, q, podcastURI)
	if err != nil {
		return false, storeErr("sqlite.InsertFollowedEntry", fmt.Errorf("error inserting followed entry: %w", err))
	}
	if !changed(res) {
		return false, nil
	}
	t.touch(podcatch.TableFollowedEntries)

	return true, nil
}

// DeleteFollowedEntry unfollows the podcast. It reports false if it was not followed.
func (t *Tx) DeleteFollowedEntry(ctx context.Context, podcastURI string) (bool, error) {
	const q = `DELETE FROM podcast_followed_entries WHERE podcast_uri = ?;`

	res, err := t.tx.ExecContext(ctx, q, podcastURI)
	if err != nil {
		return false, storeErr("sqlite.DeleteFollowedEntry", fmt.Errorf("error deleting followed entry: %w", err))
	}
	if !changed(res) {
		return false, nil
	}
	t.touch(podcatch.TableFollowedEntries)

	return true, nil
}

func changed(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err != nil || n > 0
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
