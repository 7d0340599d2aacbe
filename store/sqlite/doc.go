// Package sqlite implements store.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. No cgo required. Timestamps are stored as
// RFC 3339 text; payloads as BLOBs.
package sqlite
