//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // pure Go SQLite driver, no cgo
)

const sqliteDriver = "sqlite"

func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
