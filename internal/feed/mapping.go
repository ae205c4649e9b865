package feed

import (
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/jdholdren/podcatch/internal/podcatch"
)

var stripPolicy = bluemonday.StrictPolicy()

// sanitize removes every html tag from s, leaving plain text.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)

	return strings.TrimSpace(html.UnescapeString(s))
}

func podcastFromFeed(uri string, f *gofeed.Feed) podcatch.Podcast {
	p := podcatch.Podcast{
		URI:         uri,
		Title:       strings.TrimSpace(f.Title),
		Description: sanitize(f.Description),
		Copyright:   strings.TrimSpace(f.Copyright),
	}
	if f.Image != nil {
		p.ImageURL = f.Image.URL
	}
	if len(f.Authors) > 0 && f.Authors[0] != nil {
		p.Author = f.Authors[0].Name
	}

	if itunes := f.ITunesExt; itunes != nil {
		if p.Description == "" {
			p.Description = sanitize(itunes.Summary)
		}
		if p.ImageURL == "" {
			p.ImageURL = itunes.Image
		}
		if itunes.Author != "" {
			p.Author = itunes.Author
		}
	}
	p.Author = strings.TrimSpace(p.Author)

	return p
}

// episodesFromItems maps the feed's items. Items with nothing to identify them by are dropped.
func episodesFromItems(podcastURI string, items []*gofeed.Item, now time.Time) []podcatch.Episode {
	episodes := make([]podcatch.Episode, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		uri := itemURI(item)
		if uri == "" {
			continue
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}

		e := podcatch.Episode{
			URI:        uri,
			PodcastURI: podcastURI,
			Title:      strings.TrimSpace(item.Title),
			Published:  now,
		}
		switch {
		case item.PublishedParsed != nil:
			e.Published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			e.Published = *item.UpdatedParsed
		}
		e.Published = e.Published.UTC()

		var subtitle, summary, author string
		if itunes := item.ITunesExt; itunes != nil {
			subtitle = sanitize(itunes.Subtitle)
			summary = sanitize(itunes.Summary)
			author = strings.TrimSpace(itunes.Author)
			e.Duration = parseDuration(itunes.Duration)
		}
		if summary == "" {
			summary = sanitize(item.Description)
		}
		if author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			author = strings.TrimSpace(item.Authors[0].Name)
		}
		e.Subtitle = optional(subtitle)
		e.Summary = optional(summary)
		e.Author = optional(author)

		episodes = append(episodes, e)
	}

	return episodes
}

func itemURI(item *gofeed.Item) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" {
			return enclosure.URL
		}
	}

	return ""
}

// categoriesFromFeed prefers the iTunes categories, top level only. Feeds without
// them fall back to their plain categories.
func categoriesFromFeed(f *gofeed.Feed) []string {
	var names []string
	if f.ITunesExt != nil {
		for _, c := range f.ITunesExt.Categories {
			if c != nil {
				names = append(names, c.Text)
			}
		}
	}
	if len(names) == 0 {
		names = f.Categories
	}

	categories := []string{}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(html.UnescapeString(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		categories = append(categories, name)
	}

	return categories
}

// parseDuration reads an itunes:duration, given either in seconds or as
// MM:SS / HH:MM:SS. Anything else yields nil.
func parseDuration(s string) *time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return nil
	}

	var secs float64
	for i, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		// Only the seconds may be fractional.
		if i < len(parts)-1 && n != math.Trunc(n) {
			return nil
		}
		secs = secs*60 + n
	}

	if secs > math.MaxInt64/float64(time.Second) {
		return nil
	}

	d := time.Duration(secs * float64(time.Second))
	return &d
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
