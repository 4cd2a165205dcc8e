package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Engine implements engine.Engine over database/sql.
//
// Collections map to tables with an auto-increment integer "id" primary
// key. Fields absent from a row are stored as NULL, so "missing" and
// "null" are indistinguishable on this engine.
type Engine struct {
	db      *sql.DB
	dialect *Dialect
	comp    compiler
	logger  *slog.Logger
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Execer = (*Engine)(nil)
)

// New wraps an open database. Use the Open functions to also configure
// drivers and pools.
func New(db *sql.DB, d *Dialect, opts ...Option) *Engine {
	o := collectOptions(opts)
	return &Engine{
		db:      db,
		dialect: d,
		comp:    compiler{d: d},
		logger:  o.logger,
	}
}

// Name returns the dialect name.
func (e *Engine) Name() string { return e.dialect.Name }

// KeyKind reports integer ids.
func (e *Engine) KeyKind() engine.KeyKind { return engine.KeyInteger }

// DB returns the underlying database handle.
func (e *Engine) DB() *sql.DB { return e.db }

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() *Dialect { return e.dialect }

// Close closes the database handle.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) debug(op string, stmt Statement) {
	e.logger.Debug("sql", "engine", e.dialect.Name, "op", op, "stmt", stmt.SQL, "args", len(stmt.Args))
}

// Create inserts one row and returns it with its generated id.
func (e *Engine) Create(ctx context.Context, collection string, fields engine.Doc) (engine.Row, error) {
	stmt, err := e.comp.Insert(collection, []engine.Doc{fields})
	if err != nil {
		return engine.Row{}, err
	}
	e.debug("create", stmt)

	var id int64
	if e.dialect.Returning {
		if err := e.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
			return engine.Row{}, classify(err, collection, "create")
		}
	} else {
		res, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return engine.Row{}, classify(err, collection, "create")
		}
		if id, err = res.LastInsertId(); err != nil {
			return engine.Row{}, classify(err, collection, "create")
		}
	}
	return engine.Row{ID: id, Fields: fields.Clone()}, nil
}

// InsertMany inserts docs with multi-row statements inside one transaction.
func (e *Engine) InsertMany(ctx context.Context, collection string, docs []engine.Doc) ([]engine.Row, error) {
	if len(docs) == 0 {
		return []engine.Row{}, nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err, collection, "insert many")
	}
	defer func() { _ = tx.Rollback() }()

	rows := make([]engine.Row, 0, len(docs))
	for _, chunk := range e.comp.chunkRows(docs) {
		ids, err := e.insertChunk(ctx, tx, collection, chunk)
		if err != nil {
			return nil, err
		}
		for i, doc := range chunk {
			rows = append(rows, engine.Row{ID: ids[i], Fields: doc.Clone()})
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err, collection, "insert many")
	}
	return rows, nil
}

func (e *Engine) insertChunk(ctx context.Context, tx *sql.Tx, collection string, chunk []engine.Doc) ([]int64, error) {
	stmt, err := e.comp.Insert(collection, chunk)
	if err != nil {
		return nil, err
	}
	e.debug("insert many", stmt)

	if e.dialect.Returning {
		rs, err := tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, classify(err, collection, "insert many")
		}
		defer rs.Close()
		ids := make([]int64, 0, len(chunk))
		for rs.Next() {
			var id int64
			if err := rs.Scan(&id); err != nil {
				return nil, classify(err, collection, "insert many")
			}
			ids = append(ids, id)
		}
		if err := rs.Err(); err != nil {
			return nil, classify(err, collection, "insert many")
		}
		if len(ids) != len(chunk) {
			return nil, fmt.Errorf("insert many %s: %d ids returned for %d rows", collection, len(ids), len(chunk))
		}
		// Sequence values are drawn in VALUES order.
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ids, nil
	}

	res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err, collection, "insert many")
	}
	last, err := res.LastInsertId()
	if err != nil {
		return nil, classify(err, collection, "insert many")
	}
	first := last - int64(len(chunk)) + 1
	if e.dialect.LastIDIsFirst {
		first = last
	}
	ids := make([]int64, len(chunk))
	for i := range ids {
		ids[i] = first + int64(i)
	}
	return ids, nil
}

// Find returns matching rows.
func (e *Engine) Find(ctx context.Context, collection string, q engine.FindQuery) ([]engine.Row, error) {
	stmt, err := e.comp.Select(collection, q)
	if err != nil {
		return nil, err
	}
	e.debug("find", stmt)

	rs, err := e.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err, collection, "find")
	}
	defer rs.Close()

	out, err := scanRows(rs)
	if err != nil {
		return nil, classify(err, collection, "find")
	}
	return out, nil
}

// Count returns the number of matching rows.
func (e *Engine) Count(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	stmt, err := e.comp.Count(collection, where)
	if err != nil {
		return 0, err
	}
	e.debug("count", stmt)

	var n int64
	if err := e.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, classify(err, collection, "count")
	}
	return n, nil
}

// UpdateMany applies patch to matching rows. An empty patch is a no-op.
func (e *Engine) UpdateMany(ctx context.Context, collection string, where query.Predicate, patch engine.Doc) (int64, error) {
	if _, ok := patch[schema.IDField]; ok {
		return 0, dberr.InvalidQuery(schema.IDField, "id cannot be updated")
	}
	if len(patch) == 0 {
		return 0, nil
	}
	stmt, err := e.comp.Update(collection, where, patch)
	if err != nil {
		return 0, err
	}
	return e.exec(ctx, collection, "update", stmt)
}

// DeleteMany removes matching rows.
func (e *Engine) DeleteMany(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	stmt, err := e.comp.Delete(collection, where)
	if err != nil {
		return 0, err
	}
	return e.exec(ctx, collection, "delete", stmt)
}

func (e *Engine) exec(ctx context.Context, collection, op string, stmt Statement) (int64, error) {
	e.debug(op, stmt)
	res, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify(err, collection, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err, collection, op)
	}
	return n, nil
}

// EnsureCollection creates the table when absent and adds columns for
// hinted fields the table lacks.
func (e *Engine) EnsureCollection(ctx context.Context, collection string, hint engine.SchemaHint) error {
	create, err := e.comp.CreateTable(collection, hint)
	if err != nil {
		return err
	}
	e.debug("ensure", create)
	if _, err := e.db.ExecContext(ctx, create.SQL); err != nil {
		return classify(err, collection, "ensure collection")
	}

	existing, err := e.columns(ctx, collection)
	if err != nil {
		return err
	}
	for _, col := range hint.Fields {
		if existing[strings.ToLower(col.Name)] {
			continue
		}
		add, err := e.comp.AddColumn(collection, col)
		if err != nil {
			return err
		}
		e.debug("ensure", add)
		if _, err := e.db.ExecContext(ctx, add.SQL); err != nil {
			return classify(err, collection, "add column")
		}
		if col.Unique {
			idx := e.comp.UniqueIndex(collection, col.Name)
			e.debug("ensure", idx)
			if _, err := e.db.ExecContext(ctx, idx.SQL); err != nil {
				return classify(err, collection, "add unique index")
			}
		}
		e.logger.Info("column added", "collection", collection, "field", col.Name)
	}
	return nil
}

// columns returns the lowercased column names of a table.
func (e *Engine) columns(ctx context.Context, collection string) (map[string]bool, error) {
	rs, err := e.db.QueryContext(ctx, "SELECT * FROM "+e.dialect.Quote(collection)+" WHERE 1 = 0")
	if err != nil {
		return nil, classify(err, collection, "inspect columns")
	}
	defer rs.Close()
	names, err := rs.Columns()
	if err != nil {
		return nil, classify(err, collection, "inspect columns")
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out, nil
}

// DropCollection drops the table if it exists.
func (e *Engine) DropCollection(ctx context.Context, collection string) error {
	stmt := Statement{SQL: "DROP TABLE IF EXISTS " + e.dialect.Quote(collection)}
	e.debug("drop", stmt)
	if _, err := e.db.ExecContext(ctx, stmt.SQL); err != nil {
		return classify(err, collection, "drop collection")
	}
	return nil
}

// Exec runs a raw statement.
func (e *Engine) Exec(ctx context.Context, stmt string, args ...any) error {
	e.debug("exec", Statement{SQL: stmt, Args: args})
	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return classify(err, "", "exec")
	}
	return nil
}

// scanRows materializes result rows. The "id" column becomes Row.ID;
// every other column becomes a field.
func scanRows(rs *sql.Rows) ([]engine.Row, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	types := make([]string, len(cols))
	if cts, err := rs.ColumnTypes(); err == nil {
		for i, ct := range cts {
			types[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	out := []engine.Row{}
	for rs.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := engine.Row{Fields: make(engine.Doc, len(cols)-1)}
		for i, col := range cols {
			v := decodeValue(types[i], vals[i])
			if strings.EqualFold(col, schema.IDField) {
				row.ID = query.NormalizeKey(v)
				continue
			}
			row.Fields[col] = v
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// decodeValue converts driver values to the canonical engine forms.
func decodeValue(dbType string, v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	case int64:
		switch dbType {
		case "BOOLEAN", "BOOL", "TINYINT":
			return x != 0
		}
	}
	return v
}

// bindValue converts canonical values to driver arguments.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}
