// Package conn opens the engines named by a configuration and routes reads
// and writes between them.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tabernacleorm/tabernacle/internal/config"
	"github.com/tabernacleorm/tabernacle/internal/docengine"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/sqlengine"
)

// Connection holds one write engine and zero or more read engines.
// Reads rotate round-robin across the read engines and fall back to the
// write engine when there are none. No read-after-write consistency is
// assumed between them.
//
// Thread-safety: Connection is safe for concurrent use.
type Connection struct {
	write      engine.Engine
	reads      []engine.Engine
	next       atomic.Uint64
	autoCreate bool
	logger     *slog.Logger

	// owned lists each distinct engine once, for Close.
	owned     []engine.Engine
	closeOnce sync.Once
	closeErr  error
}

var (
	_ engine.Binding     = (*Connection)(nil)
	_ engine.AutoCreator = (*Connection)(nil)
)

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to every engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Open opens the write engine and every read engine of cfg concurrently.
// A read endpoint with the write URL shares the write engine. If any
// engine fails to open, the ones already opened are closed.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	write := cfg.WriteEndpoint()
	endpoints := []config.Endpoint{write}
	slot := make([]int, 0, len(cfg.Read))
	for _, ep := range cfg.ReadEndpoints() {
		if ep.URL == write.URL {
			slot = append(slot, 0)
			continue
		}
		slot = append(slot, len(endpoints))
		endpoints = append(endpoints, ep)
	}

	opened := make([]engine.Engine, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			e, err := openEndpoint(gctx, ep, cfg.AutoCreate, o.logger)
			if err != nil {
				return err
			}
			opened[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, e := range opened {
			if e != nil {
				_ = e.Close()
			}
		}
		return nil, err
	}

	c := &Connection{
		write:      opened[0],
		autoCreate: cfg.AutoCreate,
		logger:     o.logger,
		owned:      opened,
	}
	for _, i := range slot {
		c.reads = append(c.reads, opened[i])
	}
	o.logger.Info("connection opened", "write", opened[0].Name(), "reads", len(c.reads), "auto_create", c.autoCreate)
	return c, nil
}

// OpenURL opens a single-engine connection.
func OpenURL(ctx context.Context, url string, opts ...Option) (*Connection, error) {
	return Open(ctx, config.FromURL(url), opts...)
}

// New wraps already opened engines. The connection takes ownership of them.
func New(write engine.Engine, reads []engine.Engine, autoCreate bool) *Connection {
	c := &Connection{write: write, reads: reads, autoCreate: autoCreate, logger: slog.Default()}
	seen := map[engine.Engine]bool{}
	for _, e := range append([]engine.Engine{write}, reads...) {
		if !seen[e] {
			seen[e] = true
			c.owned = append(c.owned, e)
		}
	}
	return c
}

func openEndpoint(ctx context.Context, ep config.Endpoint, autoCreate bool, logger *slog.Logger) (engine.Engine, error) {
	t, err := ParseURL(ep.URL)
	if err != nil {
		return nil, err
	}
	sqlOpts := []sqlengine.Option{
		sqlengine.WithLogger(logger),
		sqlengine.WithPoolSize(ep.PoolSize),
		sqlengine.WithDriver(t.Driver),
	}
	switch t.Backend {
	case BackendSQLite:
		return sqlengine.OpenSQLite(ctx, t.Path, sqlOpts...)
	case BackendPostgres:
		return sqlengine.OpenPostgres(ctx, t.DSN, sqlOpts...)
	case BackendMySQL:
		return sqlengine.OpenMySQL(ctx, t.MySQL, sqlOpts...)
	}
	docOpts := []docengine.Option{docengine.WithLogger(logger), docengine.WithAutoCreate(autoCreate)}
	if t.Path == "" {
		return docengine.New(docOpts...), nil
	}
	return docengine.Open(ctx, t.Path, docOpts...)
}

// Write returns the engine that receives writes.
func (c *Connection) Write() engine.Engine { return c.write }

// Read returns the next read engine in rotation.
func (c *Connection) Read() engine.Engine {
	if len(c.reads) == 0 {
		return c.write
	}
	n := c.next.Add(1) - 1
	return c.reads[n%uint64(len(c.reads))]
}

// Reads returns the read engines in rotation order.
func (c *Connection) Reads() []engine.Engine {
	return append([]engine.Engine(nil), c.reads...)
}

// AutoCreate reports whether models create their collections on first use.
func (c *Connection) AutoCreate() bool { return c.autoCreate }

// Close closes every engine once and joins their errors.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, e := range c.owned {
			errs = append(errs, e.Close())
		}
		c.closeErr = errors.Join(errs...)
		c.logger.Info("connection closed")
	})
	return c.closeErr
}
