package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/repository"
	"github.com/jdholdren/podcatch/internal/sqlite/sqlitetest"
	"github.com/jdholdren/podcatch/internal/store"
)

type fakeRefresher struct {
	refreshing *live.Var[bool]
	calls      []bool
}

func (f *fakeRefresher) UpdatePodcasts(ctx context.Context, force bool) (repository.Summary, error) {
	f.calls = append(f.calls, force)
	f.refreshing.Set(true)
	f.refreshing.Set(false)
	return repository.Summary{Feeds: 1}, nil
}

func (f *fakeRefresher) Refreshing() *live.Var[bool] {
	return f.refreshing
}

// until reads from sub until a value satisfies ok.
func until[T any](t *testing.T, sub *live.Subscription[T], ok func(T) bool) T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		v, more := sub.Next(ctx)
		require.True(t, more, "no matching value: %v", sub.Err())
		if ok(v) {
			return v
		}
	}
}

func TestHome(t *testing.T) {
	var (
		db        = sqlitetest.New(t)
		ctx       = context.Background()
		podcasts  = store.NewPodcasts(db)
		refresher = &fakeRefresher{refreshing: live.NewVar(false)}
		home      = NewHome(podcasts, refresher)
	)
	require.NoError(t, podcasts.AddPodcast(ctx, podcatch.Podcast{URI: "p", Title: "P"}))
	require.NoError(t, podcasts.FollowPodcast(ctx, "p"))

	sub := home.State().Subscribe(ctx)
	defer sub.Close()

	state := until(t, sub, func(HomeState) bool { return true })
	assert.Equal(t, []HomeCategory{HomeLibrary, HomeDiscover}, state.HomeCategories)
	assert.Equal(t, HomeDiscover, state.SelectedHomeCategory)
	require.Len(t, state.FeaturedPodcasts, 1)
	assert.False(t, state.Refreshing)

	home.SelectCategory(HomeLibrary)
	until(t, sub, func(s HomeState) bool { return s.SelectedHomeCategory == HomeLibrary })

	require.NoError(t, home.UnfollowPodcast(ctx, "p"))
	state = until(t, sub, func(s HomeState) bool { return len(s.FeaturedPodcasts) == 0 })
	assert.Equal(t, HomeLibrary, state.SelectedHomeCategory)

	summary, err := home.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Feeds)
	assert.Equal(t, []bool{true}, refresher.calls)
}

func TestDiscoverSelectsFirstCategory(t *testing.T) {
	var (
		db         = sqlitetest.New(t)
		ctx        = context.Background()
		podcasts   = store.NewPodcasts(db)
		categories = store.NewCategories(db)
		discover   = NewDiscover(categories)
	)
	for _, uri := range []string{"p1", "p2"} {
		require.NoError(t, podcasts.AddPodcast(ctx, podcatch.Podcast{URI: uri, Title: uri}))
	}
	tech, err := categories.AddCategory(ctx, "Technology")
	require.NoError(t, err)
	arts, err := categories.AddCategory(ctx, "Arts")
	require.NoError(t, err)
	for _, uri := range []string{"p1", "p2"} {
		_, err := categories.AddPodcastToCategory(ctx, uri, tech.ID)
		require.NoError(t, err)
	}
	_, err = categories.AddPodcastToCategory(ctx, "p1", arts.ID)
	require.NoError(t, err)

	sub := discover.State().Subscribe(ctx)
	defer sub.Close()

	state := until(t, sub, func(s DiscoverState) bool { return s.SelectedCategory != nil })
	assert.Equal(t, []podcatch.Category{tech, arts}, state.Categories)
	assert.Equal(t, tech, *state.SelectedCategory)

	discover.SelectCategory(arts)
	state = until(t, sub, func(s DiscoverState) bool { return s.SelectedCategory.ID == arts.ID })
	assert.Len(t, state.Categories, 2)

	// A later change to the categories keeps the user's choice.
	_, err = categories.AddPodcastToCategory(ctx, "p2", arts.ID)
	require.NoError(t, err)
	state = until(t, sub, func(s DiscoverState) bool { return len(s.Categories) == 2 && s.Categories[0].Name == "Arts" })
	assert.Equal(t, arts, *state.SelectedCategory)
}

func TestDiscoverWithoutCategories(t *testing.T) {
	db := sqlitetest.New(t)
	sub := NewDiscover(store.NewCategories(db)).State().Subscribe(context.Background())
	defer sub.Close()

	state := until(t, sub, func(DiscoverState) bool { return true })
	assert.Empty(t, state.Categories)
	assert.Nil(t, state.SelectedCategory)
}

func TestPodcastCategory(t *testing.T) {
	var (
		db         = sqlitetest.New(t)
		ctx        = context.Background()
		podcasts   = store.NewPodcasts(db)
		episodes   = store.NewEpisodes(db)
		categories = store.NewCategories(db)
		base       = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	)
	require.NoError(t, podcasts.AddPodcast(ctx, podcatch.Podcast{URI: "p", Title: "P"}))
	news, err := categories.AddCategory(ctx, "News")
	require.NoError(t, err)
	_, err = categories.AddPodcastToCategory(ctx, "p", news.ID)
	require.NoError(t, err)

	var batch []podcatch.Episode
	for i := range 12 {
		batch = append(batch, podcatch.Episode{
			URI:        string(rune('a' + i)),
			PodcastURI: "p",
			Title:      "episode",
			Published:  base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, episodes.AddEpisodes(ctx, batch))

	category := NewPodcastCategory(news.ID, categories, podcasts)
	sub := category.State().Subscribe(ctx)
	defer sub.Close()

	state := until(t, sub, func(PodcastCategoryState) bool { return true })
	require.Len(t, state.TopPodcasts, 1)
	assert.False(t, state.TopPodcasts[0].IsFollowed)
	require.Len(t, state.Episodes, 10)
	assert.Equal(t, "l", state.Episodes[0].Episode.URI)

	followed, err := category.TogglePodcastFollowed(ctx, "p")
	require.NoError(t, err)
	assert.True(t, followed)

	until(t, sub, func(s PodcastCategoryState) bool {
		return len(s.TopPodcasts) == 1 && s.TopPodcasts[0].IsFollowed
	})
}
