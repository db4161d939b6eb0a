// Package pagination implements the cursor scheme the order-history
// endpoints use. Cursors are opaque to callers: placement time plus order
// id, base64-encoded, so paging stays stable while new orders arrive.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size when the caller does not set one.
	DefaultLimit = 25
	// MaxLimit caps any single page request.
	MaxLimit = 100
)

// Params holds the paging inputs for a list call.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor locates a position in the order history.
type Cursor struct {
	PlacedAt time.Time
	OrderID  uuid.UUID
}

// NormalizeLimit enforces the default and maximum page sizes.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// EncodeCursor builds the opaque cursor string.
func EncodeCursor(cursor Cursor) string {
	payload := fmt.Sprintf("%s|%s", cursor.PlacedAt.UTC().Format(time.RFC3339Nano), cursor.OrderID.String())
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a cursor string. An empty string means first page and
// decodes to nil.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	placedAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor order id: %w", err)
	}
	return &Cursor{PlacedAt: placedAt, OrderID: id}, nil
}
