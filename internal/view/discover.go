package view

import (
	"github.com/jdholdren/podcatch/internal/live"
	"github.com/jdholdren/podcatch/internal/podcatch"
	"github.com/jdholdren/podcatch/internal/store"
)

type DiscoverState struct {
	Categories       []podcatch.Category `json:"categories"`
	SelectedCategory *podcatch.Category  `json:"selected_category"`
}

// Discover lists the categories, most populated first, with one of them selected.
type Discover struct {
	categories *store.Categories
	selected   *live.Var[*podcatch.Category]
}

func NewDiscover(categories *store.Categories) *Discover {
	return &Discover{
		categories: categories,
		selected:   live.NewVar[*podcatch.Category](nil),
	}
}

// State emits the discover screen. Until a category is chosen, the first one is selected.
func (d *Discover) State() live.Source[DiscoverState] {
	categories := live.Each(d.categories.CategoriesSortedByPodcastCount(0), func(cs []podcatch.Category) {
		if len(cs) == 0 || d.selected.Get() != nil {
			return
		}

		first := cs[0]
		d.selected.Update(func(cur *podcatch.Category) *podcatch.Category {
			if cur != nil {
				return cur
			}
			return &first
		})
	})

	return live.Combine2(categories, d.selected, func(cs []podcatch.Category, selected *podcatch.Category) DiscoverState {
		return DiscoverState{
			Categories:       cs,
			SelectedCategory: selected,
		}
	})
}

func (d *Discover) SelectCategory(c podcatch.Category) {
	d.selected.Set(&c)
}
