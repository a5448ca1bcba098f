package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name is the configuration name of the dialect.
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// Goose is the goose dialect used for migrations.
	Goose string

	numbered bool
	intDiv   func(a, b string) string
}

var (
	// SQLite runs on the pure-Go modernc driver.
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		Goose:  "sqlite3",
		intDiv: divide,
	}

	// Postgres runs on pgx through its database/sql adapter.
	Postgres = Dialect{
		Name:     "postgres",
		Driver:   "pgx",
		Goose:    "postgres",
		numbered: true,
		intDiv:   divide,
	}

	// ClickHouse is used for query text only; the clickhouse store talks
	// to the server through the native protocol.
	ClickHouse = Dialect{
		Name: "clickhouse",
		intDiv: func(a, b string) string {
			return "intDiv(" + a + ", " + b + ")"
		},
	}
)

func divide(a, b string) string {
	return a + " / " + b
}

// ParseDialect resolves a dialect by name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
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
