package persistence

import (
	"strconv"
	"strings"
)

// dialect carries the few statements that differ between SQLite and
// PostgreSQL. Queries are written with ? placeholders and rebound.
type dialect struct {
	name            string
	migrationsDir   string
	schemaTableDDL  string
	numbered        bool
	afterExplicitID string
}

var sqliteDialect = dialect{
	name:          "sqlite",
	migrationsDir: "migrations/sqlite",
	schemaTableDDL: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

var postgresDialect = dialect{
	name:          "postgres",
	migrationsDir: "migrations/postgres",
	schemaTableDDL: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	numbered: true,
	// Explicit ids bypass the sequence; move it past them.
	afterExplicitID: `SELECT setval(pg_get_serial_sequence('content_items', 'id'), (SELECT MAX(id) FROM content_items))`,
}

// rebind rewrites ? placeholders to $1, $2, ... for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
