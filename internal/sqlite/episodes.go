package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/podcatch/internal/podcatch"
)

// episodeRow is how an episode is laid out in the episodes table.
type episodeRow struct {
	URI        string  `db:"uri"`
	PodcastURI string  `db:"podcast_uri"`
	Title      string  `db:"title"`
	Subtitle   *string `db:"subtitle"`
	Summary    *string `db:"summary"`
	Author     *string `db:"author"`
	Published  int64   `db:"published"`
	Duration   *int64  `db:"duration"`
}

func rowFromEpisode(e podcatch.Episode) episodeRow {
	row := episodeRow{
		URI:        e.URI,
		PodcastURI: e.PodcastURI,
		Title:      e.Title,
		Subtitle:   e.Subtitle,
		Summary:    e.Summary,
		Author:     e.Author,
		Published:  toMillis(e.Published),
	}
	if e.Duration != nil {
		ms := e.Duration.Milliseconds()
		row.Duration = &ms
	}

	return row
}

func (row episodeRow) episode() podcatch.Episode {
	e := podcatch.Episode{
		URI:        row.URI,
		PodcastURI: row.PodcastURI,
		Title:      row.Title,
		Subtitle:   row.Subtitle,
		Summary:    row.Summary,
		Author:     row.Author,
		Published:  fromMillis(row.Published),
	}
	if row.Duration != nil {
		d := time.Duration(*row.Duration) * time.Millisecond
		e.Duration = &d
	}

	return e
}

const episodeColumns = `e.uri, e.podcast_uri, e.title, e.subtitle, e.summary, e.author, e.published, e.duration`

// EpisodesForPodcast returns the podcast's episodes, newest first. limit <= 0 means all of them.
func (r reader) EpisodesForPodcast(ctx context.Context, podcastURI string, limit int) ([]podcatch.Episode, error) {
	const q = `SELECT ` + episodeColumns + ` FROM episodes AS e
	WHERE e.podcast_uri = ?
	ORDER BY e.published DESC, e.uri
	LIMIT ?;`

	var rows []episodeRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, q, podcastURI, limitArg(limit)); err != nil {
		return nil, storeErr("sqlite.EpisodesForPodcast", fmt.Errorf("error selecting episodes: %w", err))
	}

	episodes := make([]podcatch.Episode, len(rows))
	for i, row := range rows {
		episodes[i] = row.episode()
	}

	return episodes, nil
}

// UpsertEpisodes inserts the episodes, updating any already stored under the same URI.
func (t *Tx) UpsertEpisodes(ctx context.Context, episodes []podcatch.Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	const q = `INSERT INTO episodes (uri, podcast_uri, title, subtitle, summary, author, published, duration)
	VALUES (:uri, :podcast_uri, :title, :subtitle, :summary, :author, :published, :duration)
	ON CONFLICT(uri) DO UPDATE SET
		podcast_uri = excluded.podcast_uri,
		title = excluded.title,
		subtitle = excluded.subtitle,
		summary = excluded.summary,
		author = excluded.author,
		published = excluded.published,
		duration = excluded.duration
	WHERE episodes.podcast_uri IS NOT excluded.podcast_uri
		OR episodes.title IS NOT excluded.title
		OR episodes.subtitle IS NOT excluded.subtitle
		OR episodes.summary IS NOT excluded.summary
		OR episodes.author IS NOT excluded.author
		OR episodes.published IS NOT excluded.published
		OR episodes.duration IS NOT excluded.duration;`

	stmt, err := t.tx.PrepareNamedContext(ctx, q)
	if err != nil {
		return storeErr("sqlite.UpsertEpisodes", fmt.Errorf("error preparing episode upsert: %w", err))
	}
	defer stmt.Close()

	for _, e := range episodes {
		res, err := stmt.ExecContext(ctx, rowFromEpisode(e))
		if err != nil {
			return storeErr("sqlite.UpsertEpisodes", fmt.Errorf("error upserting episode %s: %w", e.URI, err))
		}
		if changed(res) {
			t.touch(podcatch.TableEpisodes)
		}
	}

	return nil
}
