package core

import (
	"fmt"
	"time"
)

const (
	Weekly  Filter = "weekly"
	Monthly Filter = "monthly"
	Yearly  Filter = "yearly"
)

// Filter selects the time window of a derived view.
type Filter string

func (f Filter) Valid() bool {
	return f == Weekly || f == Monthly || f == Yearly
}

// ParseFilter accepts the three filter names.
func ParseFilter(s string) (Filter, error) {
	f := Filter(s)
	if !f.Valid() {
		return "", fmt.Errorf("invalid filter %q: must be one of weekly, monthly, yearly", s)
	}
	return f, nil
}

type (
	// CategoryAmount represents an amount aggregated by category name.
	CategoryAmount struct {
		Category Category
		Amount   Money
	}

	// Bucket is one point of the time series: a day or a month.
	Bucket struct {
		Label  string
		Start  time.Time
		Amount Money
	}

	// Window is an inclusive time range.
	Window struct {
		Start time.Time
		End   time.Time
	}

	// Aggregates is everything a chart needs for one filter.
	Aggregates struct {
		Filter     Filter
		Window     Window
		Total      Money
		Count      int
		ByCategory []CategoryAmount
		Series     []Bucket
	}
)

// Contains reports whether t lies in the window, both ends included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// WindowFor computes the inclusive window for f around ref. Calendar
// arithmetic happens in ref's location.
//
// weekly:  start of the day six days before ref, through ref
// monthly: the calendar month containing ref
// yearly:  the calendar year containing ref
func WindowFor(f Filter, ref time.Time) Window {
	loc := ref.Location()
	y, m, d := ref.Date()
	switch f {
	case Weekly:
		return Window{Start: time.Date(y, m, d-6, 0, 0, 0, 0, loc), End: ref}
	case Yearly:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(1, 0, 0).Add(-time.Nanosecond)}
	default:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}
	}
}

// DeriveAggregates filters expenses to the window of f around ref and
// computes the category breakdown and a time series spanning the whole
// window. Empty buckets are kept. It has no side effects.
func DeriveAggregates(expenses []Expense, f Filter, ref time.Time) Aggregates {
	if !f.Valid() {
		f = Monthly
	}
	win := WindowFor(f, ref)
	series := emptySeries(f, win)
	index := make(map[string]int, len(series))
	for i, b := range series {
		index[bucketKey(f, b.Start)] = i
	}

	out := Aggregates{Filter: f, Window: win}
	catIndex := map[Category]int{}
	for _, e := range expenses {
		if !win.Contains(e.Date) {
			continue
		}
		out.Count++
		out.Total = out.Total.Add(e.Amount)

		if i, ok := catIndex[e.Category]; ok {
			out.ByCategory[i].Amount = out.ByCategory[i].Amount.Add(e.Amount)
		} else {
			catIndex[e.Category] = len(out.ByCategory)
			out.ByCategory = append(out.ByCategory, CategoryAmount{Category: e.Category, Amount: e.Amount})
		}

		if i, ok := index[bucketKey(f, e.Date.In(ref.Location()))]; ok {
			series[i].Amount = series[i].Amount.Add(e.Amount)
		}
	}
	out.Series = series
	return out
}

func emptySeries(f Filter, win Window) []Bucket {
	var out []Bucket
	if f == Yearly {
		for t := win.Start; !t.After(win.End); t = t.AddDate(0, 1, 0) {
			out = append(out, Bucket{Label: t.Format("Jan"), Start: t})
		}
		return out
	}
	for t := win.Start; !t.After(win.End); t = t.AddDate(0, 0, 1) {
		out = append(out, Bucket{Label: t.Format("Jan 02"), Start: t})
	}
	return out
}

func bucketKey(f Filter, t time.Time) string {
	if f == Yearly {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}
