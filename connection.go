package tabernacle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/conn"
	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/model"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

var (
	mu      sync.RWMutex
	current *conn.Connection
	logger  = slog.Default()

	// models follows whatever connection is current when an operation runs,
	// so models may be defined before Connect.
	models = model.NewRegistry(model.WithBindingResolver(currentBinding))
)

// SetLogger sets the logger used by connections opened with Connect.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Connect opens cfg and makes it the current connection. It fails when a
// connection is already current.
func Connect(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return dberr.Connection(nil, "already connected; call Disconnect first")
	}
	c, err := conn.Open(ctx, cfg, conn.WithLogger(logger))
	if err != nil {
		return err
	}
	current = c
	return nil
}

// ConnectURL connects to a single engine URL.
func ConnectURL(ctx context.Context, url string) error {
	return Connect(ctx, Config{URL: url})
}

// Disconnect closes the current connection. It is a no-op when nothing is
// connected.
func Disconnect() error {
	mu.Lock()
	c := current
	current = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Current returns the current connection, or a connection error when
// Connect has not been called.
func Current() (*Connection, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return nil, dberr.Connection(nil, "not connected; call Connect first")
	}
	return current, nil
}

func currentBinding() (engine.Binding, error) {
	c, err := Current()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewRegistry returns a registry whose models use c. Models registered there
// are independent of the process-wide registry.
func NewRegistry(c *Connection, opts ...model.Option) *Registry {
	return model.NewRegistry(append([]model.Option{model.WithBinding(c)}, opts...)...)
}

// Define registers a model on the process-wide registry. The collection
// name defaults to the lower-cased plural of name.
func Define(name string, fields []Field, opts ...schema.Option) (*Model, error) {
	desc, err := NewDescriptor(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	return models.Register(desc)
}

// MustDefine is like Define but panics on error.
func MustDefine(name string, fields []Field, opts ...schema.Option) *Model {
	m, err := Define(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// WithCollection overrides the collection name of a model.
func WithCollection(name string) schema.Option { return schema.WithCollection(name) }

// Lookup returns a model defined on the process-wide registry.
func Lookup(name string) (*Model, bool) { return models.Model(name) }

// Models returns the process-wide registry.
func Models() *Registry { return models }
