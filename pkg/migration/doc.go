// Package migration keeps the shared store consistent when nodes come and go.
//
// Migrator moves session ownership between nodes. Cleaner reclaims sessions whose owner
// stopped advancing them, and Janitor runs the Cleaner periodically.
package migration
