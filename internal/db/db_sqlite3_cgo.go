//go:build cgo && sqlite3_cgo

package db

import (
	_ "github.com/mattn/go-sqlite3"
)

// Build with -tags sqlite3_cgo to link the system SQLite through cgo.
const (
	driverName = "sqlite3"
	driverID   = "mattn/go-sqlite3"
)
