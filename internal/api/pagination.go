package api

import (
	"net/http"
	"strconv"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// CursorParams holds parsed keyset pagination query parameters.
type CursorParams struct {
	Limit  int
	Cursor string
}

// ParseCursor extracts limit and cursor from the request.
// Defaults: limit=50. Maximum limit is 200.
func ParseCursor(r *http.Request) CursorParams {
	p := CursorParams{Limit: defaultLimit}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
			if p.Limit > maxLimit {
				p.Limit = maxLimit
			}
		}
	}
	p.Cursor = q.Get("cursor")
	return p
}
