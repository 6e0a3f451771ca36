package query

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect selects placeholder style and identifier quoting
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// String returns the dialect name
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Rebind rewrites `?` placeholders into the dialect's native form.
// Text inside single-quoted literals and double-quoted identifiers is
// copied unchanged; every other `?` is a placeholder.
func (d Dialect) Rebind(sql string) string {
	if d != Postgres {
		return sql
	}

	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 1
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			// a doubled quote is an escape and keeps the literal open
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Quote quotes a possibly table-qualified identifier.
// `*`, `table.*` and "expr AS alias" forms are handled; anything that
// looks like an expression is returned untouched.
func (d Dialect) Quote(name string) string {
	if name == "*" {
		return name
	}
	if i := strings.Index(strings.ToLower(name), " as "); i > 0 {
		return d.Quote(strings.TrimSpace(name[:i])) + " AS " + d.quotePart(strings.TrimSpace(name[i+4:]))
	}
	if strings.ContainsAny(name, "() '\"`") {
		return name
	}

	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = d.quotePart(p)
	}
	return strings.Join(parts, ".")
}

func (d Dialect) quotePart(part string) string {
	return pq.QuoteIdentifier(part)
}
