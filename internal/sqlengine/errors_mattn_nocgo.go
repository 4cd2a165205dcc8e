//go:build !cgo

package sqlengine

import (
	// Registers the "sqlite3" driver; without cgo it reports that cgo is required.
	_ "github.com/mattn/go-sqlite3"
)

// isMattnConstraint reports whether err is a mattn/go-sqlite3 constraint
// violation. Without cgo the driver cannot open a database, so it never
// produces one.
func isMattnConstraint(err error) bool { return false }
