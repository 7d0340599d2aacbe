// Package mongo implements store.Store on MongoDB using the official
// v2 driver. Jobs live in a conductor_jobs collection keyed by the
// TypeID string; Migrate creates the status and staleness scan indexes.
package mongo
