// Package pagination encodes the keyset cursors used by list endpoints.
// Rows are ordered by (created_at DESC, id DESC); a cursor names the last
// row of the previous page.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const separator = "|"

// Cursor is the position after which the next page starts.
type Cursor struct {
	LastID    string
	CreatedAt time.Time
}

// EncodeCursor returns an opaque, URL-safe cursor. An empty ID yields an
// empty cursor, which means "no more pages".
func EncodeCursor(lastID string, createdAt time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := createdAt.UTC().Format(time.RFC3339Nano) + separator + lastID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor. The empty string
// decodes to a nil cursor, the first page.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}

	ts, id, ok := strings.Cut(string(raw), separator)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}

	return &Cursor{LastID: id, CreatedAt: createdAt}, nil
}
