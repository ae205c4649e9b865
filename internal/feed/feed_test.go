package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/podcatch/internal/cache"
	pcerrs "github.com/jdholdren/podcatch/internal/errors"
)

const testPodcastFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Now in Android</title>
    <description>&lt;p&gt;News &amp;amp; updates from the &lt;b&gt;Android&lt;/b&gt; team&lt;/p&gt;</description>
    <link>https://example.com</link>
    <copyright>2024 Example</copyright>
    <itunes:author>Android Developers</itunes:author>
    <itunes:image href="https://example.com/art.png"/>
    <itunes:category text="Technology">
      <itunes:category text="Tech News"/>
    </itunes:category>
    <itunes:category text="News"/>
    <itunes:category text="Technology"/>
    <item>
      <title>Episode One</title>
      <guid>ep-1</guid>
      <pubDate>Mon, 01 Jan 2024 12:00:00 GMT</pubDate>
      <itunes:subtitle>The first one</itunes:subtitle>
      <itunes:summary>All about the first one</itunes:summary>
      <itunes:author>Host</itunes:author>
      <itunes:duration>01:02:03</itunes:duration>
    </item>
    <item>
      <title>Episode Two</title>
      <link>https://example.com/ep-2</link>
      <description>Second &lt;i&gt;episode&lt;/i&gt;</description>
      <pubDate>Tue, 02 Jan 2024 12:00:00 +0100</pubDate>
    </item>
    <item>
      <title>Episode Three</title>
      <enclosure url="https://example.com/ep-3.mp3" length="1" type="audio/mpeg"/>
      <itunes:duration>bogus</itunes:duration>
    </item>
    <item>
      <title>Nameless</title>
    </item>
  </channel>
</rss>`

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <subtitle>A test Atom feed</subtitle>
  <category term="Science"/>
  <entry>
    <title>Atom Post One</title>
    <id>atom-id-1</id>
    <updated>2024-01-01T12:00:00Z</updated>
  </entry>
</feed>`

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return srv
}

func feedHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, body)
	}
}

func TestFetchFeed_Podcast(t *testing.T) {
	var (
		srv = serve(t, feedHandler(testPodcastFeed))
		f   = New(Options{})
		now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	)
	f.now = func() time.Time { return now }

	res, err := f.FetchFeed(context.Background(), srv.URL, false)
	require.NoError(t, err)

	assert.Equal(t, srv.URL, res.Podcast.URI)
	assert.Equal(t, "Now in Android", res.Podcast.Title)
	assert.Equal(t, "News & updates from the Android team", res.Podcast.Description)
	assert.Equal(t, "Android Developers", res.Podcast.Author)
	assert.Equal(t, "https://example.com/art.png", res.Podcast.ImageURL)
	assert.Equal(t, "2024 Example", res.Podcast.Copyright)
	assert.Equal(t, []string{"Technology", "News"}, res.Categories)
	assert.False(t, res.Cached)

	require.Len(t, res.Episodes, 3)

	one := res.Episodes[0]
	assert.Equal(t, "ep-1", one.URI)
	assert.Equal(t, srv.URL, one.PodcastURI)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), one.Published)
	assert.Equal(t, "The first one", *one.Subtitle)
	assert.Equal(t, "All about the first one", *one.Summary)
	assert.Equal(t, "Host", *one.Author)
	require.NotNil(t, one.Duration)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, *one.Duration)

	two := res.Episodes[1]
	assert.Equal(t, "https://example.com/ep-2", two.URI)
	assert.Equal(t, time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC), two.Published)
	assert.Nil(t, two.Subtitle)
	assert.Equal(t, "Second episode", *two.Summary)
	assert.Nil(t, two.Duration)

	three := res.Episodes[2]
	assert.Equal(t, "https://example.com/ep-3.mp3", three.URI)
	assert.Equal(t, now, three.Published)
	assert.Nil(t, three.Duration)
}

func TestFetchFeed_Atom(t *testing.T) {
	srv := serve(t, feedHandler(testAtomFeed))

	res, err := New(Options{}).FetchFeed(context.Background(), srv.URL, false)
	require.NoError(t, err)

	assert.Equal(t, "Test Atom Feed", res.Podcast.Title)
	assert.Equal(t, []string{"Science"}, res.Categories)
	require.Len(t, res.Episodes, 1)
	assert.Equal(t, "atom-id-1", res.Episodes[0].URI)
}

func TestFetchFeed_Malformed(t *testing.T) {
	srv := serve(t, feedHandler("this is not a feed"))

	_, err := New(Options{}).FetchFeed(context.Background(), srv.URL, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, pcerrs.ErrParse)

	var pcerr *pcerrs.Error
	require.ErrorAs(t, err, &pcerr)
	assert.Equal(t, srv.URL, pcerr.URL)
}

func TestFetchFeed_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		feedHandler(testAtomFeed)(w, r)
	})

	res, err := New(Options{Retries: 2, Backoff: time.Millisecond}).FetchFeed(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, "Test Atom Feed", res.Podcast.Title)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchFeed_ServerErrorIsNetworkError(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := New(Options{Retries: 1, Backoff: time.Millisecond}).FetchFeed(context.Background(), srv.URL, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, pcerrs.ErrNetwork)

	var statusErr StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchFeed_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})

	_, err := New(Options{Retries: 3, Backoff: time.Millisecond}).FetchFeed(context.Background(), srv.URL, false)
	assert.ErrorIs(t, err, pcerrs.ErrNetwork)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchFeed_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := New(Options{Timeout: 50 * time.Millisecond}).FetchFeed(context.Background(), srv.URL, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, pcerrs.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallCancel(t *testing.T) {
	var (
		started = make(chan struct{})
		release = make(chan struct{})
	)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, testPodcastFeed[:200])
		w.(http.Flusher).Flush()
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	call := New(Options{}).Fetch(context.Background(), srv.URL, false)
	<-started
	call.Cancel()

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call did not finish after cancel")
	}

	res, err := call.Wait(context.Background())
	assert.Empty(t, res.Episodes)
	assert.ErrorIs(t, err, pcerrs.ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallCancelAfterCompletion(t *testing.T) {
	srv := serve(t, feedHandler(testAtomFeed))

	call := New(Options{}).Fetch(context.Background(), srv.URL, false)
	<-call.Done()
	call.Cancel()

	_, err := call.Wait(context.Background())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCallWait(t *testing.T) {
	srv := serve(t, feedHandler(testAtomFeed))

	res, err := New(Options{}).Fetch(context.Background(), srv.URL, false).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test Atom Feed", res.Podcast.Title)
}

func TestFetchFeed_Cached(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=300")
		feedHandler(testAtomFeed)(w, r)
	})

	responses, err := cache.New(4)
	require.NoError(t, err)
	f := New(Options{Transport: responses.Transport(http.DefaultTransport)})

	res, err := f.FetchFeed(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	res, err = f.FetchFeed(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.EqualValues(t, 1, hits.Load())

	// Forcing goes back to the server.
	res, err = f.FetchFeed(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchFeed_TooLarge(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		feedHandler(testPodcastFeed)(w, r)
	})

	f := New(Options{Retries: 2, Backoff: time.Millisecond})
	f.maxSize = 64

	_, err := f.FetchFeed(context.Background(), srv.URL, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, pcerrs.ErrParse)
	assert.EqualValues(t, 1, hits.Load())

	f.maxSize = int64(len(testPodcastFeed))
	_, err = f.FetchFeed(context.Background(), srv.URL, false)
	assert.NoError(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"45", 45 * time.Second, true},
		{"3600", time.Hour, true},
		{"05:30", 5*time.Minute + 30*time.Second, true},
		{"1:00:01", time.Hour + time.Second, true},
		{"12.5", 12500 * time.Millisecond, true},
		{"1.5:00", 0, false},
		{"1:2:3:4", 0, false},
		{"-5", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"1e300", 0, false},
		{"99999999999:00:00", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseDuration(tt.in)
			if !tt.ok {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestHostLimiterSpacesRequests(t *testing.T) {
	l := newHostLimiter(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.wait(ctx, "https://a.example/one"))
	require.NoError(t, l.wait(ctx, "https://b.example/one"))
	assert.Less(t, time.Since(start), 40*time.Millisecond, "different hosts do not wait on each other")

	require.NoError(t, l.wait(ctx, "https://a.example/two"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	assert.Error(t, l.wait(ctx, "not a url"))
}
