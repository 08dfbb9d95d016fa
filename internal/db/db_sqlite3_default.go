//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// The default build embeds SQLite as wasm and needs no C toolchain.
const (
	driverName = "sqlite3"
	driverID   = "ncruces/go-sqlite3"
)
