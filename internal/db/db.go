// Package db opens the storage backends selected by DATABASE_URL and
// prepares their schema.
package db

import (
	"strings"
)

// Dialect identifies a storage backend.
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectMongo    Dialect = "mongo"
)

// ParseURL picks the dialect for a DATABASE_URL value and returns the
// driver-specific DSN. An empty URL selects the in-memory store.
func ParseURL(rawURL string) (Dialect, string) {
	rawURL = strings.TrimSpace(rawURL)
	lower := strings.ToLower(rawURL)

	switch {
	case rawURL == "":
		return DialectMemory, ""
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, rawURL
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return DialectMongo, rawURL
	case strings.HasPrefix(lower, "sqlite://"):
		return DialectSQLite, rawURL[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		return DialectSQLite, rawURL[len("sqlite:"):]
	case strings.HasPrefix(lower, "file:"):
		return DialectSQLite, rawURL
	default:
		// libpq keyword/value DSNs ("host=... dbname=...")
		return DialectPostgres, rawURL
	}
}
