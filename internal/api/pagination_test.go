package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantCursor string
	}{
		{"defaults", "", 50, ""},
		{"custom limit", "limit=25", 25, ""},
		{"capped", "limit=500", 200, ""},
		{"negative limit", "limit=-1", 50, ""},
		{"zero limit", "limit=0", 50, ""},
		{"non-numeric limit", "limit=abc", 50, ""},
		{"cursor passed through", "limit=10&cursor=eyJjIjoiIn0", 10, "eyJjIjoiIn0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/test?"+tt.query, nil)
			p := ParseCursor(r)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Cursor != tt.wantCursor {
				t.Errorf("cursor = %q, want %q", p.Cursor, tt.wantCursor)
			}
		})
	}
}
