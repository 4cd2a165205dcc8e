package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Collection stores the ids of applied units.
const Collection = "tabernacle_migrations"

var bookkeeping = []schema.Field{
	schema.String("name", schema.Required(), schema.Unique(), schema.MaxLength(255)),
	schema.DateTime("applied_at", schema.Required()),
}

// Status is the state of one unit.
type Status struct {
	ID        string
	Applied   bool
	AppliedAt time.Time

	// Unknown is set for applied ids that no registered unit carries.
	Unknown bool
}

// Executor applies and reverts units against one engine.
//
// Executor assumes a single caller per engine; two executors migrating the
// same engine concurrently may both apply a pending unit.
type Executor struct {
	eng    engine.Engine
	reg    *Registry
	clock  engine.Clock
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for applied_at.
func WithClock(c engine.Clock) Option {
	return func(x *Executor) {
		if c != nil {
			x.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewExecutor returns an executor for the units of reg against eng.
func NewExecutor(eng engine.Engine, reg *Registry, opts ...Option) *Executor {
	x := &Executor{eng: eng, reg: reg, clock: engine.SystemClock{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Migrate applies every pending unit in id order and returns the ids it
// applied. A unit is recorded only after its up operation succeeds; the
// first failure stops the run and earlier units stay applied.
func (x *Executor) Migrate(ctx context.Context) ([]string, error) {
	applied, err := x.applied(ctx)
	if err != nil {
		return nil, err
	}
	s := NewSchema(x.eng)
	var done []string
	for _, u := range x.reg.Units() {
		if _, ok := applied[u.ID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		start := time.Now()
		if err := u.Up(ctx, s); err != nil {
			return done, fmt.Errorf("apply %s: %w", u.ID, err)
		}
		// The unit has taken effect; record it even if the caller gave up.
		at := schema.NormalizeTime(x.clock.Now())
		if _, err := x.eng.Create(context.WithoutCancel(ctx), Collection, engine.Doc{"name": u.ID, "applied_at": at}); err != nil {
			return done, fmt.Errorf("record %s: %w", u.ID, err)
		}
		x.logger.Info("migration applied", "id", u.ID, "duration", time.Since(start))
		done = append(done, u.ID)
	}
	return done, nil
}

// Rollback reverts the most recently applied unit and returns its id. It
// returns "" when nothing is applied.
func (x *Executor) Rollback(ctx context.Context) (string, error) {
	applied, err := x.applied(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}
	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	last := ids[len(ids)-1]

	u, ok := x.reg.Get(last)
	if !ok {
		return "", dberr.NotFound(Collection, "applied migration %s is not registered", last)
	}
	if u.Down == nil {
		return "", dberr.InvalidQuery("", "migration %s is irreversible", last)
	}
	if err := u.Down(ctx, NewSchema(x.eng)); err != nil {
		return "", fmt.Errorf("revert %s: %w", last, err)
	}
	if _, err := x.eng.DeleteMany(context.WithoutCancel(ctx), Collection, query.Eq("name", last)); err != nil {
		return "", fmt.Errorf("unrecord %s: %w", last, err)
	}
	x.logger.Info("migration rolled back", "id", last)
	return last, nil
}

// Status lists registered units in id order, followed by applied ids that
// no registered unit carries.
func (x *Executor) Status(ctx context.Context) ([]Status, error) {
	applied, err := x.applied(ctx)
	if err != nil {
		return nil, err
	}
	var out []Status
	for _, u := range x.reg.Units() {
		at, ok := applied[u.ID]
		out = append(out, Status{ID: u.ID, Applied: ok, AppliedAt: at})
		delete(applied, u.ID)
	}
	var orphans []string
	for id := range applied {
		orphans = append(orphans, id)
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		out = append(out, Status{ID: id, Applied: true, AppliedAt: applied[id], Unknown: true})
	}
	return out, nil
}

// applied ensures the bookkeeping collection and reads the applied set.
func (x *Executor) applied(ctx context.Context) (map[string]time.Time, error) {
	if err := NewSchema(x.eng).CreateCollection(ctx, Collection, bookkeeping...); err != nil {
		return nil, fmt.Errorf("ensure %s: %w", Collection, err)
	}
	rows, err := x.eng.Find(ctx, Collection, engine.FindQuery{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		name, _ := row.Fields["name"].(string)
		at, _ := row.Fields["applied_at"].(time.Time)
		out[name] = at
	}
	return out, nil
}
