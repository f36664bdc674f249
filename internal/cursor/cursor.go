// Package cursor encodes and decodes Relay connection cursors. A cursor is
// the base64 encoding of "<prefix>:<integer offset>", opaque to clients but
// positionally meaningful to the pagination engine.
package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const prefix = "connection"

// OffsetToCursor encodes a zero-based result offset as an opaque cursor.
func OffsetToCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%d", prefix, offset)))
}

// CursorToOffset decodes an opaque cursor back to its integer offset.
func CursorToOffset(raw string) (int, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	typename, value, ok := strings.Cut(string(data), ":")
	if !ok || typename != prefix {
		return 0, fmt.Errorf("invalid cursor format")
	}
	offset, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cursor offset must be non-negative")
	}
	return offset, nil
}
