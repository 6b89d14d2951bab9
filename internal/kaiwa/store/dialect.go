package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// dialect captures the SQL differences between the supported databases.
// Queries are written with '?' placeholders and rebound per dialect.
type dialect struct {
	name   string
	driver string
}

var errUnknownDriver = errors.New("unsupported storage driver")

var (
	dialectSQLite   = dialect{name: "sqlite", driver: "sqlite"}
	dialectPostgres = dialect{name: "postgres", driver: "postgres"}
	dialectMySQL    = dialect{name: "mysql", driver: "mysql"}
)

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return dialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return dialectPostgres, nil
	case "mysql", "mariadb":
		return dialectMySQL, nil
	}
	return dialect{}, fmt.Errorf("%w %q", errUnknownDriver, name)
}

// rebind rewrites '?' placeholders into the dialect's native form.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert appends the conflict clause to an INSERT. set is a list of
// "column = expr" assignments written with current() and excluded().
func (d dialect) upsert(insert, conflict string, set ...string) string {
	if d == dialectMySQL {
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(set, ", ")
	}
	return insert + " ON CONFLICT (" + conflict + ") DO UPDATE SET " + strings.Join(set, ", ")
}

// insertIgnore turns an INSERT into one that is a no-op on key conflict.
func (d dialect) insertIgnore(insert, conflict string) string {
	if d == dialectMySQL {
		return strings.Replace(insert, "INSERT", "INSERT IGNORE", 1)
	}
	return insert + " ON CONFLICT (" + conflict + ") DO NOTHING"
}

// current references the existing row's column inside an upsert.
func (d dialect) current(table, column string) string {
	if d == dialectMySQL {
		return column
	}
	return table + "." + column
}

// excluded references the proposed row's column inside an upsert.
func (d dialect) excluded(column string) string {
	if d == dialectMySQL {
		return "VALUES(" + column + ")"
	}
	return "excluded." + column
}

// splitStatements breaks a migration file into individual statements so
// that drivers without multi-statement support can run it.
func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")
			out = append(out, stmt)
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
