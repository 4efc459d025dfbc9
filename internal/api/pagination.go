package api

import (
	"net/http"
	"strconv"
)

// Page is the parsed page/limit query of a list request.
type Page struct {
	Page   int
	Limit  int
	Offset int
}

// PageMeta is returned alongside list data.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// ParsePage reads ?page= and ?limit=, applying defaultLimit when absent and
// capping at maxLimit.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Page{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// Meta describes p given the total number of matches.
func (p Page) Meta(total int) PageMeta {
	pages := (total + p.Limit - 1) / p.Limit
	if pages < 1 {
		pages = 1
	}
	return PageMeta{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    p.Page < pages,
	}
}
