// Package storage provides the SQLite-backed store for recordings, their
// captured events and screenshots, replay runs, and the audit log. Schema
// changes are applied through linear, versioned migrations that can also be
// rolled back to an earlier version.
package storage
