// Package dto holds the request and response shapes of the HTTP API.
// Money is always integer minor units (cents); quantities are whole units.
package dto

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
)

// IDResponse returns the id of a created resource.
type IDResponse struct {
	ID string `json:"id"`
}

// PageRequest is a keyset page request.
type PageRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Page wraps one page of results; NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewPage builds a page, emitting a cursor only when the page is full.
func NewPage[T any](items []T, limit int, cursor func(*T) (time.Time, id.ID)) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{Items: items}
	if limit > 0 && len(items) == limit {
		at, last := cursor(&items[len(items)-1])
		p.NextCursor = EncodeCursor(at, last)
	}
	return p
}

// EncodeCursor renders a (timestamp, id) keyset position as an opaque token.
func EncodeCursor(at time.Time, last id.ID) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + last.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. An empty token yields ok=false.
func DecodeCursor(token string) (at time.Time, last id.ID, ok bool, err error) {
	if token == "" {
		return time.Time{}, id.Nil(), false, nil
	}
	invalid := apperror.NewInvalidArgument("invalid cursor")
	raw, decErr := base64.RawURLEncoding.DecodeString(token)
	if decErr != nil {
		return time.Time{}, id.Nil(), false, invalid
	}
	ts, rawID, found := strings.Cut(string(raw), "|")
	if !found {
		return time.Time{}, id.Nil(), false, invalid
	}
	if at, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return time.Time{}, id.Nil(), false, invalid
	}
	if last, err = id.Parse(rawID); err != nil {
		return time.Time{}, id.Nil(), false, invalid
	}
	return at, last, true, nil
}

const dateLayout = "2006-01-02"

// ParseBound parses an RFC 3339 timestamp or a calendar date (UTC).
// A date used as an upper bound covers the whole day.
func ParseBound(field, value string, upper bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, apperror.NewInvalidArgument(fmt.Sprintf("%s must be RFC 3339 or YYYY-MM-DD", field)).
			WithDetail(field, value)
	}
	if upper {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &d, nil
}

// ParseID parses a path or query id.
func ParseID(field, value string) (id.ID, error) {
	v, err := id.Parse(strings.TrimSpace(value))
	if err != nil {
		return id.Nil(), apperror.NewInvalidArgument(fmt.Sprintf("invalid %s", field)).
			WithDetail(field, value)
	}
	return v, nil
}
