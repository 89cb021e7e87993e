// Package cursor provides opaque pagination token encoding/decoding.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Direction indicates the pagination direction.
type Direction string

const (
	// DirectionForward paginates forward (seq > cursor).
	DirectionForward Direction = "fwd"
	// DirectionBackward paginates backward (seq < cursor).
	DirectionBackward Direction = "bwd"
)

// Cursor is the state carried by a page token.
type Cursor struct {
	Seq int64     `json:"seq"`
	Dir Direction `json:"dir"`
	// FilterHash invalidates tokens when the filter changes.
	FilterHash string `json:"filter_hash,omitempty"`
}

// Encode encodes a cursor to an opaque base64 string.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode decodes an opaque token produced by Encode.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal cursor: %w", err)
	}
	if c.Dir != DirectionForward && c.Dir != DirectionBackward {
		return Cursor{}, fmt.Errorf("invalid cursor direction: %q", c.Dir)
	}
	if c.Seq < 0 {
		return Cursor{}, fmt.Errorf("invalid cursor seq: %d", c.Seq)
	}
	return c, nil
}

// HashFilter computes a short hash of the filter string for cursor validation.
// Returns empty string for empty filter.
func HashFilter(filter string) string {
	if filter == "" {
		return ""
	}
	h := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(h[:8])
}

// ValidateFilter checks that the cursor was issued for the same filter and
// direction.
func ValidateFilter(c Cursor, dir Direction, filter string) error {
	if c.Dir != dir {
		return fmt.Errorf("cursor direction %q does not match %q", c.Dir, dir)
	}
	if c.FilterHash != HashFilter(filter) {
		return fmt.Errorf("filter changed since cursor was created")
	}
	return nil
}

// NewNextPageCursor creates a cursor for the page after lastSeq.
// For ascending order: seq > lastSeq (forward)
// For descending order: seq < lastSeq (backward)
func NewNextPageCursor(lastSeq int64, descending bool, filter string) Cursor {
	dir := DirectionForward
	if descending {
		dir = DirectionBackward
	}
	return Cursor{
		Seq:        lastSeq,
		Dir:        dir,
		FilterHash: HashFilter(filter),
	}
}
