//go:build cgo

package sqlengine

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isMattnConstraint reports whether err is a mattn/go-sqlite3 constraint
// violation. The driver's error types only exist when cgo is enabled.
func isMattnConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return true
		}
	}
	return false
}
