package sqlengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota
	PlaceholderDollar
)

// Dialect captures the statement differences between relational backends.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle

	// Returning is true when INSERT ... RETURNING reports generated ids.
	// Otherwise ids come from LastInsertId.
	Returning bool

	// LastIDIsFirst is true when LastInsertId of a multi-row insert reports
	// the first generated id (MySQL) rather than the last (SQLite).
	LastIDIsFirst bool

	// ExplicitNulls is true when NULLS FIRST/LAST must be spelled out to
	// sort nulls first on ascending and last on descending order.
	ExplicitNulls bool

	// MaxParams bounds the bind parameters of one statement.
	MaxParams int

	quote   func(string) string
	idType  string
	columns map[schema.FieldType]string
}

var (
	// SQLite is the dialect for mattn/go-sqlite3 and modernc.org/sqlite.
	SQLite = &Dialect{
		Name:        "sqlite",
		Placeholder: PlaceholderQuestion,
		MaxParams:   32766,
		quote:       pq.QuoteIdentifier,
		idType:      "INTEGER PRIMARY KEY AUTOINCREMENT",
		columns: map[schema.FieldType]string{
			schema.TypeString:   "TEXT",
			schema.TypeText:     "TEXT",
			schema.TypeInteger:  "INTEGER",
			schema.TypeFloat:    "REAL",
			schema.TypeBoolean:  "BOOLEAN",
			schema.TypeDateTime: "DATETIME",
		},
	}

	// Postgres is the dialect for pgx and lib/pq.
	Postgres = &Dialect{
		Name:          "postgres",
		Placeholder:   PlaceholderDollar,
		Returning:     true,
		ExplicitNulls: true,
		MaxParams:     65535,
		quote:         pq.QuoteIdentifier,
		idType:        "BIGSERIAL PRIMARY KEY",
		columns: map[schema.FieldType]string{
			schema.TypeString:   "VARCHAR",
			schema.TypeText:     "TEXT",
			schema.TypeInteger:  "BIGINT",
			schema.TypeFloat:    "DOUBLE PRECISION",
			schema.TypeBoolean:  "BOOLEAN",
			schema.TypeDateTime: "TIMESTAMPTZ",
		},
	}

	// MySQL is the dialect for go-sql-driver/mysql.
	MySQL = &Dialect{
		Name:          "mysql",
		Placeholder:   PlaceholderQuestion,
		LastIDIsFirst: true,
		MaxParams:     65535,
		quote:         quoteBacktick,
		idType:        "BIGINT AUTO_INCREMENT PRIMARY KEY",
		columns: map[schema.FieldType]string{
			schema.TypeString:   "VARCHAR",
			schema.TypeText:     "TEXT",
			schema.TypeInteger:  "BIGINT",
			schema.TypeFloat:    "DOUBLE",
			schema.TypeBoolean:  "BOOLEAN",
			schema.TypeDateTime: "DATETIME(6)",
		},
	}
)

// defaultVarcharLength bounds String fields without MaxLength on dialects
// that cannot index unbounded text.
const defaultVarcharLength = 255

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Quote quotes an identifier.
func (d *Dialect) Quote(ident string) string {
	return d.quote(ident)
}

// ColumnType returns the column definition type for a hinted field.
func (d *Dialect) ColumnType(c engine.ColumnHint) (string, error) {
	if c.Type == schema.TypeReference {
		if c.Ref != nil && c.Ref.KeyKind == engine.KeyString {
			if d == MySQL {
				return "VARCHAR(64)", nil
			}
			return "TEXT", nil
		}
		return d.columns[schema.TypeInteger], nil
	}
	t, ok := d.columns[c.Type]
	if !ok {
		return "", fmt.Errorf("%s: no column type for %s field %q", d.Name, c.Type, c.Name)
	}
	if c.Type == schema.TypeString && d != SQLite {
		n := c.MaxLength
		if n == 0 {
			if d == Postgres {
				return "TEXT", nil
			}
			n = defaultVarcharLength
		}
		return t + "(" + strconv.Itoa(n) + ")", nil
	}
	return t, nil
}

// limitClause renders LIMIT/OFFSET. A zero limit means unbounded.
func (d *Dialect) limitClause(skip, limit int) string {
	switch {
	case limit > 0 && skip > 0:
		return " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(skip)
	case limit > 0:
		return " LIMIT " + strconv.Itoa(limit)
	case skip > 0:
		switch d {
		case SQLite:
			return " LIMIT -1 OFFSET " + strconv.Itoa(skip)
		case MySQL:
			return " LIMIT 18446744073709551615 OFFSET " + strconv.Itoa(skip)
		default:
			return " OFFSET " + strconv.Itoa(skip)
		}
	}
	return ""
}

// builder accumulates bind parameters and renders placeholders.
type builder struct {
	style PlaceholderStyle
	args  []any
}

func newBuilder(style PlaceholderStyle) *builder {
	return &builder{style: style}
}

// Arg records v and returns its placeholder.
func (b *builder) Arg(v any) string {
	b.args = append(b.args, v)
	if b.style == PlaceholderDollar {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

func (b *builder) Args() []any { return b.args }
