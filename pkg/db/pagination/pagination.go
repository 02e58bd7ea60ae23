package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Pagination carries the caller-supplied paging inputs for list
// operations over large append-only tables such as the audit trail.
type Pagination struct {
	PageToken string
	PageSize  int
}

// Limit clamps the requested page size into [1, maxPageSize].
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	if p.PageSize > maxPageSize {
		return maxPageSize
	}
	return p.PageSize
}

// Cursor marks the last row of the previous page. IDs are snowflakes,
// so ordering by id alone is stable and time-ordered.
type Cursor struct {
	LastID int64 `json:"last_id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, ErrInvalidPageToken
	}
	return &c, nil
}

// BuildPage trims an over-fetched result set (limit+1 rows requested)
// down to the page and derives the next-page token from the final row.
func BuildPage[T any](rows []*T, limit int, lastID func(*T) int64) ([]*T, *PageInfo) {
	if len(rows) <= limit {
		return rows, &PageInfo{}
	}
	rows = rows[:limit]
	token := EncodeCursor(Cursor{LastID: lastID(rows[len(rows)-1])})
	return rows, &PageInfo{NextPageToken: token, HasMore: true}
}
