//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// wasm build of sqlite, works without a C toolchain
var sqlite = driver{id: "ncruces/go-sqlite3", name: "sqlite3"}
