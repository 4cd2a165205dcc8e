package sqlengine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Statement is a compiled, parameterized SQL statement.
//
// Values are never interpolated into SQL text; every literal is bound.
type Statement struct {
	SQL  string
	Args []any
}

// compiler turns query intents into statements for one dialect.
type compiler struct {
	d *Dialect
}

// compileWhere renders a predicate tree as a WHERE-clause fragment.
// A nil predicate renders as "1 = 1".
func (c compiler) compileWhere(p query.Predicate, b *builder) (string, error) {
	switch p := p.(type) {
	case nil:
		return "1 = 1", nil
	case query.Cmp:
		return c.compileCmp(p, b)
	case query.And:
		if len(p.Predicates) == 0 {
			return "1 = 1", nil
		}
		return c.compileJunction(p.Predicates, " AND ", b)
	case query.Or:
		if len(p.Predicates) == 0 {
			return "1 = 0", nil
		}
		return c.compileJunction(p.Predicates, " OR ", b)
	default:
		return "", dberr.InvalidQuery("", "unsupported predicate type %T", p)
	}
}

func (c compiler) compileJunction(preds []query.Predicate, sep string, b *builder) (string, error) {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		s, err := c.compileWhere(p, b)
		if err != nil {
			return "", err
		}
		if _, nested := p.(query.Cmp); !nested {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, sep), nil
}

// compileCmp renders one comparison with null handling that matches the
// document engine: ne includes nulls, in skips them.
func (c compiler) compileCmp(cmp query.Cmp, b *builder) (string, error) {
	col := c.d.Quote(cmp.Field)

	switch cmp.Op {
	case query.OpEq:
		if cmp.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + b.Arg(bindValue(cmp.Value)), nil
	case query.OpNe:
		if cmp.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return "(" + col + " <> " + b.Arg(bindValue(cmp.Value)) + " OR " + col + " IS NULL)", nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		if cmp.Value == nil {
			return "", dberr.InvalidQuery(cmp.Field, "%s comparison against null", cmp.Op)
		}
		return col + " " + orderingOps[cmp.Op] + " " + b.Arg(bindValue(cmp.Value)), nil
	case query.OpIn:
		set, ok := cmp.Value.([]any)
		if !ok {
			return "", dberr.InvalidQuery(cmp.Field, "in expects a list, got %T", cmp.Value)
		}
		marks := make([]string, 0, len(set))
		for _, v := range set {
			if v == nil {
				continue
			}
			marks = append(marks, b.Arg(bindValue(v)))
		}
		if len(marks) == 0 {
			return "1 = 0", nil
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", nil
	default:
		return "", dberr.InvalidQuery(cmp.Field, "unknown operator %q", cmp.Op)
	}
}

var orderingOps = map[query.Op]string{
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

// orderBy renders the ORDER BY clause. Every query ends with the id as a
// tiebreaker unless the caller sorted on it, so results are deterministic
// and ties keep insertion order.
func (c compiler) orderBy(keys []query.SortKey) string {
	parts := make([]string, 0, len(keys)+1)
	sawID := false
	for _, k := range keys {
		s := c.d.Quote(k.Field)
		if k.Desc {
			s += " DESC"
		} else {
			s += " ASC"
		}
		if k.Field == schema.IDField {
			sawID = true
		} else if c.d.ExplicitNulls {
			if k.Desc {
				s += " NULLS LAST"
			} else {
				s += " NULLS FIRST"
			}
		}
		parts = append(parts, s)
	}
	if !sawID {
		parts = append(parts, c.d.Quote(schema.IDField)+" ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// Select compiles a Find.
func (c compiler) Select(table string, q engine.FindQuery) (Statement, error) {
	if q.Skip < 0 || q.Limit < 0 {
		return Statement{}, dberr.InvalidQuery("", "negative skip or limit")
	}
	b := newBuilder(c.d.Placeholder)
	where, err := c.compileWhere(q.Where, b)
	if err != nil {
		return Statement{}, err
	}
	sql := "SELECT * FROM " + c.d.Quote(table) +
		" WHERE " + where +
		c.orderBy(q.Sort) +
		c.d.limitClause(q.Skip, q.Limit)
	return Statement{SQL: sql, Args: b.Args()}, nil
}

// Count compiles a Count.
func (c compiler) Count(table string, where query.Predicate) (Statement, error) {
	b := newBuilder(c.d.Placeholder)
	w, err := c.compileWhere(where, b)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "SELECT COUNT(*) FROM " + c.d.Quote(table) + " WHERE " + w, Args: b.Args()}, nil
}

// Delete compiles a DeleteMany.
func (c compiler) Delete(table string, where query.Predicate) (Statement, error) {
	b := newBuilder(c.d.Placeholder)
	w, err := c.compileWhere(where, b)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DELETE FROM " + c.d.Quote(table) + " WHERE " + w, Args: b.Args()}, nil
}

// Update compiles an UpdateMany. Patch columns are emitted in sorted order.
func (c compiler) Update(table string, where query.Predicate, patch engine.Doc) (Statement, error) {
	if _, ok := patch[schema.IDField]; ok {
		return Statement{}, dberr.InvalidQuery(schema.IDField, "id cannot be updated")
	}
	b := newBuilder(c.d.Placeholder)
	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = c.d.Quote(col) + " = " + b.Arg(bindValue(patch[col]))
	}
	w, err := c.compileWhere(where, b)
	if err != nil {
		return Statement{}, err
	}
	sql := "UPDATE " + c.d.Quote(table) + " SET " + strings.Join(sets, ", ") + " WHERE " + w
	return Statement{SQL: sql, Args: b.Args()}, nil
}

// Insert compiles a multi-row INSERT over the union of the rows' columns.
// Columns absent from a row bind NULL.
func (c compiler) Insert(table string, rows []engine.Doc) (Statement, error) {
	if _, ok := unionColumns(rows)[schema.IDField]; ok {
		return Statement{}, dberr.InvalidQuery(schema.IDField, "id is assigned by the engine")
	}
	cols := sortedColumns(unionColumns(rows))
	b := newBuilder(c.d.Placeholder)

	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(c.d.Quote(table))
	if len(cols) == 0 {
		if c.d == MySQL {
			sql.WriteString(" () VALUES ")
			for i := range rows {
				if i > 0 {
					sql.WriteString(", ")
				}
				sql.WriteString("()")
			}
		} else if len(rows) == 1 {
			sql.WriteString(" DEFAULT VALUES")
		} else {
			return Statement{}, dberr.InvalidQuery("", "multi-row insert needs at least one column")
		}
	} else {
		quoted := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = c.d.Quote(col)
		}
		sql.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES ")
		for i, row := range rows {
			if i > 0 {
				sql.WriteString(", ")
			}
			marks := make([]string, len(cols))
			for j, col := range cols {
				marks[j] = b.Arg(bindValue(row[col]))
			}
			sql.WriteString("(" + strings.Join(marks, ", ") + ")")
		}
	}
	if c.d.Returning {
		sql.WriteString(" RETURNING " + c.d.Quote(schema.IDField))
	}
	return Statement{SQL: sql.String(), Args: b.Args()}, nil
}

// CreateTable compiles the DDL for a hinted collection. References to
// integer-keyed collections on the same engine become table-level foreign
// keys.
func (c compiler) CreateTable(table string, hint engine.SchemaHint) (Statement, error) {
	defs := []string{c.d.Quote(schema.IDField) + " " + c.d.idType}
	var fks []string
	for _, col := range hint.Fields {
		def, err := c.columnDef(col, true)
		if err != nil {
			return Statement{}, err
		}
		defs = append(defs, def)
		if col.Ref != nil && col.Ref.SameEngine && col.Ref.KeyKind == engine.KeyInteger {
			fk := "FOREIGN KEY (" + c.d.Quote(col.Name) + ") REFERENCES " +
				c.d.Quote(col.Ref.Collection) + " (" + c.d.Quote(schema.IDField) + ")"
			if col.Ref.OnDelete != schema.OnDeleteNoAction {
				fk += " ON DELETE " + string(col.Ref.OnDelete)
			}
			fks = append(fks, fk)
		}
	}
	defs = append(defs, fks...)
	sql := "CREATE TABLE IF NOT EXISTS " + c.d.Quote(table) + " (" + strings.Join(defs, ", ") + ")"
	return Statement{SQL: sql}, nil
}

// AddColumn compiles ALTER TABLE ADD COLUMN for a field missing from an
// existing table. Uniqueness is added separately with UniqueIndex since
// SQLite rejects UNIQUE on added columns.
func (c compiler) AddColumn(table string, col engine.ColumnHint) (Statement, error) {
	def, err := c.columnDef(col, false)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "ALTER TABLE " + c.d.Quote(table) + " ADD COLUMN " + def}, nil
}

// UniqueIndex compiles a unique index over one column.
func (c compiler) UniqueIndex(table, column string) Statement {
	name := c.d.Quote(table + "_" + column + "_key")
	ifNotExists := " IF NOT EXISTS"
	if c.d == MySQL {
		ifNotExists = ""
	}
	return Statement{SQL: "CREATE UNIQUE INDEX" + ifNotExists + " " + name +
		" ON " + c.d.Quote(table) + " (" + c.d.Quote(column) + ")"}
}

// columnDef renders a column definition. full enables constraints that
// are only legal at table creation.
func (c compiler) columnDef(col engine.ColumnHint, full bool) (string, error) {
	typ, err := c.d.ColumnType(col)
	if err != nil {
		return "", err
	}
	def := c.d.Quote(col.Name) + " " + typ
	if !full {
		return def, nil
	}
	if col.Required && !col.Nullable {
		def += " NOT NULL"
	}
	if col.Unique {
		def += " UNIQUE"
	}
	return def, nil
}

func unionColumns(rows []engine.Doc) engine.Doc {
	out := engine.Doc{}
	for _, r := range rows {
		for k := range r {
			out[k] = nil
		}
	}
	return out
}

func sortedColumns(d engine.Doc) []string {
	cols := make([]string, 0, len(d))
	for k := range d {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// chunkRows splits rows so no statement exceeds the dialect's parameter
// limit.
func (c compiler) chunkRows(rows []engine.Doc) [][]engine.Doc {
	width := len(unionColumns(rows))
	per := 1
	switch {
	case width > 0:
		per = c.d.MaxParams / width
	case c.d == MySQL:
		per = len(rows)
	}
	if per < 1 {
		per = 1
	}
	var chunks [][]engine.Doc
	for len(rows) > per {
		chunks = append(chunks, rows[:per])
		rows = rows[per:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}

// String renders a statement for logs and golden files.
func (s Statement) String() string {
	if len(s.Args) == 0 {
		return s.SQL
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = formatArg(a)
	}
	return s.SQL + "\n-- args: " + strings.Join(args, ", ")
}

func formatArg(a any) string {
	switch v := a.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
