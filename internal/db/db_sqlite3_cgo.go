//go:build cgo && sqlite3_cgo

package db

// build with `-tags sqlite3_cgo` to link the system sqlite through cgo
import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
