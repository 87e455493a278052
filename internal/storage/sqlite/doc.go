// Package sqlite persists local tracks and their fitted hits in SQLite.
//
// All database reads and writes for the track model live here rather than
// in package pixeltrack, which stays free of SQL. The schema is managed by
// golang-migrate from migrations embedded in the binary.
package sqlite
