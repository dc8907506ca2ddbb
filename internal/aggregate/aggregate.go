// Package aggregate buckets occurrences by calendar date and macro category.
package aggregate

import (
	"sort"
	"time"

	"opscal/internal/model"
)

type bucketKey struct {
	date     string
	category model.Category
}

// Buckets groups occs by (ISO date in loc, category). Buckets are ordered by
// date, then category display order. Within a bucket items are ordered by
// priority (critical first) and keep their input order for equal priority,
// so the same input always yields the same output.
func Buckets(occs []model.Occurrence, loc *time.Location) []model.Bucket {
	if loc == nil {
		loc = time.UTC
	}

	index := make(map[bucketKey]int)
	buckets := make([]model.Bucket, 0)

	for _, occ := range occs {
		key := bucketKey{
			date:     occ.Due.In(loc).Format(model.DateLayout),
			category: categoryOf(occ),
		}
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, model.Bucket{Date: key.date, Category: key.category})
		}
		b := &buckets[i]
		b.Items = append(b.Items, occ)
		if occ.Status != model.StatusCompleted {
			b.ActiveCount++
		}
	}

	for i := range buckets {
		items := buckets[i].Items
		sort.SliceStable(items, func(a, b int) bool {
			return items[a].Priority.Rank() < items[b].Priority.Rank()
		})
	}

	sort.SliceStable(buckets, func(a, b int) bool {
		if buckets[a].Date != buckets[b].Date {
			return buckets[a].Date < buckets[b].Date
		}
		ra, rb := model.CategoryRank(buckets[a].Category), model.CategoryRank(buckets[b].Category)
		if ra != rb {
			return ra < rb
		}
		return buckets[a].Category < buckets[b].Category
	})

	return buckets
}

func categoryOf(occ model.Occurrence) model.Category {
	if occ.Category != "" {
		return occ.Category
	}
	return occ.Kind.Category()
}

// ForDate returns the buckets of one ISO date, in category order.
func ForDate(buckets []model.Bucket, date string) []model.Bucket {
	var out []model.Bucket
	for _, b := range buckets {
		if b.Date == date {
			out = append(out, b)
		}
	}
	return out
}

// Summary totals one category across all buckets.
type Summary struct {
	Category  model.Category `json:"category"`
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Overdue   int            `json:"overdue"`
	Completed int            `json:"completed"`
}

// Summarize returns one Summary per category present in buckets, in
// category display order.
func Summarize(buckets []model.Bucket) []Summary {
	byCat := make(map[model.Category]*Summary)
	for _, b := range buckets {
		s, ok := byCat[b.Category]
		if !ok {
			s = &Summary{Category: b.Category}
			byCat[b.Category] = s
		}
		s.Total += len(b.Items)
		s.Active += b.ActiveCount
		for _, it := range b.Items {
			switch it.Status {
			case model.StatusOverdue:
				s.Overdue++
			case model.StatusCompleted:
				s.Completed++
			}
		}
	}

	out := make([]Summary, 0, len(byCat))
	for _, s := range byCat {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool {
		ra, rb := model.CategoryRank(out[a].Category), model.CategoryRank(out[b].Category)
		if ra != rb {
			return ra < rb
		}
		return out[a].Category < out[b].Category
	})
	return out
}
