package firestore

import (
	"time"

	"github.com/karimtraders/grocery/internal/platform/pagination"
)

func encodeTimeCursor(at time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{CreatedAt: at, ID: id})
}

func decodeTimeCursor(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	return cursor.CreatedAt, cursor.ID, nil
}

// pageLimits returns the page size and the fetch size; the extra document signals a next page.
func pageLimits(size int) (limit, fetch int) {
	limit = size
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	if limit > pagination.DefaultMaxPageSize {
		limit = pagination.DefaultMaxPageSize
	}
	return limit, limit + 1
}
