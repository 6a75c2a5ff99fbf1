package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// isNoRows reports whether err is pgx's no-rows sentinel, used by lookup
// methods that return (zero value, false, nil) rather than an error on miss.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
