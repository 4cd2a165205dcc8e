package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/docengine"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/model"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
	"github.com/tabernacleorm/tabernacle/internal/sqlengine"
	"github.com/tabernacleorm/tabernacle/internal/testutil"
)

// Backends lists the engines a scenario can run on.
var Backends = []string{"document", "sqlite"}

// OpenBackend opens a fresh in-memory engine of the named backend.
func OpenBackend(ctx context.Context, name string, logger *slog.Logger) (engine.Engine, error) {
	switch name {
	case "document":
		return docengine.New(docengine.WithLogger(logger)), nil
	case "sqlite":
		return sqlengine.OpenSQLite(ctx, sqlengine.MemoryPath, sqlengine.WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown backend %q: must be one of %v", name, Backends)
}

// Harness runs one scenario against one engine. Every run uses a
// deterministic clock, so timestamps are identical across engines.
type Harness struct {
	eng     *testutil.CountingEngine
	models  *model.Registry
	aliases map[string]*record.Record
	// labels maps normalized ids to "$alias".
	labels map[any]string
	logger *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger for the models and the harness.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run registers the scenario's models on eng, executes every step and
// evaluates the assertions. eng should be empty. An error is returned only
// when the scenario cannot be set up; failed expectations are reported in
// the result.
func Run(ctx context.Context, scenario *Scenario, eng engine.Engine, opts ...Option) (*Result, error) {
	h := &Harness{
		eng:     testutil.NewCountingEngine(eng),
		aliases: map[string]*record.Record{},
		labels:  map[any]string{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.models = model.NewRegistry(
		model.WithBinding(engine.Single(h.eng)),
		model.WithClock(testutil.NewDeterministicClock()),
		model.WithAutoCreate(true),
		model.WithLogger(h.logger),
	)
	for _, ms := range scenario.Models {
		desc, err := ms.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", ms.Name, err)
		}
		if _, err := h.models.Register(desc); err != nil {
			return nil, err
		}
	}
	if err := h.models.Validate(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.runStep(ctx, i, step)
		result.Trace = append(result.Trace, ev)
		for _, msg := range h.checkStep(i, step, ev, err) {
			result.AddError(msg)
		}
	}
	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	h.logger.Debug("scenario finished", "scenario", scenario.Name, "engine", eng.Name(), "pass", result.Pass)
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, s Step) (TraceEvent, error) {
	ev := TraceEvent{Step: i + 1, Do: s.Do, Model: s.Model}
	finds := len(h.eng.Finds())
	recs, n, err := h.execute(ctx, s)
	ev.Finds = len(h.eng.Finds()) - finds
	if err != nil {
		ev.Error = codeOf(err)
		return ev, err
	}
	ev.Count = n
	for _, r := range recs {
		ev.Records = append(ev.Records, h.canonical(r))
	}
	return ev, nil
}

// execute performs one step and returns the records it produced and the
// count it reports.
func (h *Harness) execute(ctx context.Context, s Step) ([]*record.Record, int64, error) {
	m, ok := h.models.Model(s.Model)
	if !ok {
		return nil, 0, dberr.RelationshipDeclaration(s.Model, "", "model is not registered")
	}

	switch s.Do {
	case OpCreate:
		fields, err := h.resolveMap(s.Fields)
		if err != nil {
			return nil, 0, err
		}
		r, err := m.Create(ctx, fields)
		if err != nil {
			return nil, 0, err
		}
		h.bind(s.As, r)
		return []*record.Record{r}, 1, nil

	case OpInsertMany:
		docs := make([]map[string]any, len(s.Docs))
		for i, d := range s.Docs {
			resolved, err := h.resolveMap(d)
			if err != nil {
				return nil, 0, err
			}
			docs[i] = resolved
		}
		recs, err := m.InsertMany(ctx, docs)
		if err != nil {
			return nil, 0, err
		}
		for i, r := range recs {
			if i < len(s.Aliases) {
				h.bind(s.Aliases[i], r)
			}
		}
		return recs, int64(len(recs)), nil

	case OpGet:
		filter, err := h.resolveMap(s.Filter)
		if err != nil {
			return nil, 0, err
		}
		r, err := m.Get(ctx, filter)
		if err != nil {
			return nil, 0, err
		}
		h.bind(s.As, r)
		return []*record.Record{r}, 1, nil

	case OpFindByID:
		id, err := h.resolve(s.ID)
		if err != nil {
			return nil, 0, err
		}
		r, err := m.FindByID(ctx, id)
		return single(h, s.As, r, err)
	}

	q, err := h.query(m, s)
	if err != nil {
		return nil, 0, err
	}
	switch s.Do {
	case OpFind:
		recs, err := q.Exec(ctx)
		if err != nil {
			return nil, 0, err
		}
		if len(recs) > 0 {
			h.bind(s.As, recs[0])
		}
		return recs, int64(len(recs)), nil
	case OpFirst:
		r, err := q.First(ctx)
		return single(h, s.As, r, err)
	case OpCount:
		n, err := q.Count(ctx)
		return nil, n, err
	case OpUpdate:
		set, err := h.resolveMap(s.Set)
		if err != nil {
			return nil, 0, err
		}
		n, err := q.Update(ctx, set)
		return nil, n, err
	case OpDelete:
		n, err := q.Delete(ctx)
		return nil, n, err
	}
	return nil, 0, fmt.Errorf("unknown operation %q", s.Do)
}

func single(h *Harness, alias string, r *record.Record, err error) ([]*record.Record, int64, error) {
	if err != nil || r == nil {
		return nil, 0, err
	}
	h.bind(alias, r)
	return []*record.Record{r}, 1, nil
}

func (h *Harness) query(m *model.Model, s Step) (*model.Query, error) {
	q := m.All()
	if s.Filter != nil {
		filter, err := h.resolveMap(s.Filter)
		if err != nil {
			return nil, err
		}
		q = q.Filter(filter)
	}
	if s.Match != nil {
		match, err := h.resolveMap(s.Match)
		if err != nil {
			return nil, err
		}
		q = q.Match(match)
	}
	if s.Sort != "" {
		q = q.Sort(s.Sort)
	}
	if s.Skip > 0 {
		q = q.Skip(s.Skip)
	}
	if s.Limit > 0 {
		q = q.Limit(s.Limit)
	}
	if s.Populate != "" {
		q = q.Populate(s.Populate)
	}
	return q, q.Err()
}

func (h *Harness) bind(alias string, r *record.Record) {
	if alias == "" || r == nil {
		return
	}
	h.aliases[alias] = r
	h.labels[query.NormalizeKey(r.ID())] = "$" + alias
}

// resolve replaces "$alias" strings with record ids, recursively.
func (h *Harness) resolve(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !strings.HasPrefix(x, "$") {
			return x, nil
		}
		r, ok := h.aliases[x[1:]]
		if !ok {
			return nil, fmt.Errorf("unknown alias %s", x)
		}
		return r.ID(), nil
	case map[string]any:
		return h.resolveMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := h.resolve(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

func (h *Harness) resolveMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		r, err := h.resolve(v)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// canonical renders r without engine-specific ids. The id appears only
// for aliased records; reference keys become the alias of their target or
// "?" when the target has none.
func (h *Harness) canonical(r *record.Record) map[string]any {
	out := map[string]any{}
	if label, ok := h.labels[query.NormalizeKey(r.ID())]; ok {
		out[schema.IDField] = label
	}
	for _, f := range r.Descriptor().Fields() {
		switch f.Type {
		case schema.TypeCollection:
			members, ok := r.Collection(f.Name)
			if !ok {
				continue
			}
			list := make([]any, len(members))
			for i, m := range members {
				list[i] = h.canonical(m)
			}
			out[f.Name] = list
		case schema.TypeReference:
			if target, ok := r.Related(f.Name); ok {
				out[f.Name] = h.canonical(target)
				continue
			}
			v, _ := r.Get(f.Name)
			out[f.Name] = h.label(v)
		default:
			v, _ := r.Get(f.Name)
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(time.RFC3339Nano)
			}
			out[f.Name] = v
		}
	}
	return out
}

func (h *Harness) label(key any) any {
	if key == nil {
		return nil
	}
	if label, ok := h.labels[query.NormalizeKey(key)]; ok {
		return label
	}
	return "?"
}

func codeOf(err error) string {
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
