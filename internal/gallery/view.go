package gallery

import (
	"strings"

	"github.com/evlasova/capgallery/internal/model"
)

// PageSize is the fixed presentation page size.
const PageSize = 8

// Filter is the client-side view filter state. Date is a UTC calendar date in
// "2006-01-02" form ("" = no date filter). Page is 1-based.
type Filter struct {
	Search string
	Date   string
	Page   int
}

// Normalize applies the page-reset rule: whenever Search or Date changed
// relative to prev, Page snaps back to 1. A non-positive page also becomes 1.
func (f Filter) Normalize(prev Filter) Filter {
	if f.Search != prev.Search || f.Date != prev.Date || f.Page < 1 {
		f.Page = 1
	}
	return f
}

// Page is one derived view of the item set.
type Page struct {
	Items      []model.Item
	Number     int
	TotalPages int
	Total      int // filtered item count across all pages
}

// Derive filters items by case-insensitive caption substring, then by UTC
// calendar date, then slices the fixed-size page. Pure: the same inputs
// always yield the same result, and items is never mutated. The two filters
// are independent predicates, so their order is immaterial.
func Derive(items []model.Item, f Filter) Page {
	search := strings.ToLower(f.Search)

	filtered := make([]model.Item, 0, len(items))
	for _, it := range items {
		if search != "" && !strings.Contains(strings.ToLower(it.Caption), search) {
			continue
		}
		if f.Date != "" && it.UploadedAt.UTC().Format("2006-01-02") != f.Date {
			continue
		}
		filtered = append(filtered, it)
	}

	total := len(filtered)
	totalPages := (total + PageSize - 1) / PageSize

	number := f.Page
	if number < 1 {
		number = 1
	}
	start := (number - 1) * PageSize
	if start > total {
		start = total
	}
	end := start + PageSize
	if end > total {
		end = total
	}

	return Page{
		Items:      filtered[start:end],
		Number:     number,
		TotalPages: totalPages,
		Total:      total,
	}
}

// viewCache memoizes the last Derive result for unchanged inputs. The item
// slice is replaced wholesale on every fetch, so header identity is a valid
// sameness check.
type viewCache struct {
	items  []model.Item
	filter Filter
	page   Page
	valid  bool
}

func (c *viewCache) get(items []model.Item, f Filter) (Page, bool) {
	if !c.valid || c.filter != f || !sameSlice(c.items, items) {
		return Page{}, false
	}
	return c.page, true
}

func (c *viewCache) put(items []model.Item, f Filter, p Page) {
	c.items, c.filter, c.page, c.valid = items, f, p, true
}

func sameSlice(a, b []model.Item) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
