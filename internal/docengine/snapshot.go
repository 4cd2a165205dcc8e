package docengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// snapshotVersion is bumped when the on-disk layout changes.
const snapshotVersion = 1

type snapshot struct {
	Version     int                            `msgpack:"version"`
	Seq         int64                          `msgpack:"seq"`
	Collections map[string]*collectionSnapshot `msgpack:"collections"`
}

type collectionSnapshot struct {
	Fields []fieldSnapshot `msgpack:"fields"`
	Docs   []docSnapshot   `msgpack:"docs"`
}

type fieldSnapshot struct {
	Name      string           `msgpack:"name"`
	Type      schema.FieldType `msgpack:"type"`
	Nullable  bool             `msgpack:"nullable"`
	Unique    bool             `msgpack:"unique"`
	Required  bool             `msgpack:"required"`
	MaxLength int              `msgpack:"max_length,omitempty"`
}

type docSnapshot struct {
	ID     string         `msgpack:"id"`
	Seq    int64          `msgpack:"seq"`
	Fields map[string]any `msgpack:"fields"`
}

// Open returns an engine persisted to a msgpack snapshot at path. An
// existing snapshot is loaded; a missing one starts empty. Every write
// rewrites the snapshot atomically (temp file and rename).
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := New(opts...)
	e.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.logger.Info("engine opened", "engine", "document", "target", path, "collections", 0)
		return e, nil
	case err != nil:
		return nil, dberr.Connection(err, "read snapshot %s", path)
	}

	var snap snapshot
	if err := decode(data, &snap); err != nil {
		return nil, dberr.Connection(err, "decode snapshot %s", path)
	}
	if snap.Version != snapshotVersion {
		return nil, dberr.Connection(nil, "snapshot %s has version %d, want %d", path, snap.Version, snapshotVersion)
	}
	for name, cs := range snap.Collections {
		c := &collection{fields: make(map[string]engine.ColumnHint, len(cs.Fields))}
		for _, f := range cs.Fields {
			c.fields[f.Name] = engine.ColumnHint{
				Name: f.Name, Type: f.Type, Nullable: f.Nullable,
				Unique: f.Unique, Required: f.Required, MaxLength: f.MaxLength,
			}
		}
		for _, d := range cs.Docs {
			c.docs = append(c.docs, &storedDoc{ID: d.ID, Seq: d.Seq, Fields: canonicalDoc(d.Fields)})
		}
		sort.Slice(c.docs, func(i, j int) bool { return c.docs[i].Seq < c.docs[j].Seq })
		e.collections[name] = c
	}
	e.seq = engine.NewSequenceAt(snap.Seq)
	e.logger.Info("engine opened", "engine", "document", "target", path, "collections", len(snap.Collections))
	return e, nil
}

// persistLocked writes the snapshot when the engine is file-backed.
// Callers hold the write lock.
func (e *Engine) persistLocked() error {
	if e.path == "" {
		return nil
	}
	snap := snapshot{
		Version:     snapshotVersion,
		Seq:         e.seq.Current(),
		Collections: make(map[string]*collectionSnapshot, len(e.collections)),
	}
	for name, c := range e.collections {
		cs := &collectionSnapshot{Docs: make([]docSnapshot, len(c.docs))}
		for _, h := range c.fields {
			cs.Fields = append(cs.Fields, fieldSnapshot{
				Name: h.Name, Type: h.Type, Nullable: h.Nullable,
				Unique: h.Unique, Required: h.Required, MaxLength: h.MaxLength,
			})
		}
		sort.Slice(cs.Fields, func(i, j int) bool { return cs.Fields[i].Name < cs.Fields[j].Name })
		for i, d := range c.docs {
			cs.Docs[i] = docSnapshot{ID: d.ID, Seq: d.Seq, Fields: d.Fields}
		}
		snap.Collections[name] = cs
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(e.path, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", e.path, err)
	}
	e.logger.Debug("snapshot written", "path", e.path, "bytes", len(data))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// normalize copies a document into stored form by round-tripping it
// through msgpack. Integers of every width come back as int64 and times
// as UTC.
func normalize(d engine.Doc) (engine.Doc, error) {
	data, err := msgpack.Marshal(map[string]any(d))
	if err != nil {
		return nil, dberr.InvalidQuery("", "unsupported field value: %v", err)
	}
	var out map[string]any
	if err := decode(data, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return canonicalDoc(out), nil
}

func decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func canonicalDoc(m map[string]any) engine.Doc {
	out := make(engine.Doc, len(m))
	for k, v := range m {
		out[k] = canonicalStored(v)
	}
	return out
}

// canonicalStored maps decoded msgpack values to the engine's canonical
// scalar forms.
func canonicalStored(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = canonicalStored(e)
		}
		return out
	case map[string]any:
		return map[string]any(canonicalDoc(x))
	}
	return v
}
