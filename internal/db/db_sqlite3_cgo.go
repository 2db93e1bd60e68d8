//go:build sqlite3_cgo

package db

import (
	_ "github.com/mattn/go-sqlite3"
)

var sqlite = driver{id: "mattn/go-sqlite3", name: "sqlite3"}
