package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errBadCursor = errors.New("malformed cursor")
var errBadRequest = errors.New("bad request")

// Keyset cursors encode (sort_value, entity_id) so pages stay stable under
// concurrent inserts: a new row never shifts rows across page boundaries the
// way offset pagination does.
func encodeCursor(sortVal, entityID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sortVal + "|" + entityID))
}

func decodeCursor(s string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", "", errBadCursor
	}
	sortVal, entityID, ok := strings.Cut(string(raw), "|")
	if !ok {
		return "", "", errBadCursor
	}
	return sortVal, entityID, nil
}

// idCursor handles the common case of id-descending lists.
func idCursor(id uint64) string {
	v := strconv.FormatUint(id, 10)
	return encodeCursor(v, v)
}

func decodeIDCursor(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	sortVal, _, err := decodeCursor(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(sortVal, 10, 64)
	if err != nil {
		return 0, errBadCursor
	}
	return id, nil
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad id %q", errBadRequest, raw)
	}
	return id, nil
}
