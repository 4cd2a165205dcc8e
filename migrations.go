package tabernacle

import (
	"context"

	"github.com/tabernacleorm/tabernacle/internal/migrate"
)

var migrations = migrate.NewRegistry()

// MigrationStatus is the applied state of one migration unit.
type MigrationStatus = migrate.Status

// RegisterMigration adds a migration unit to the process-wide registry.
// Generated migration files call it from init; an invalid or duplicate id
// panics. down may be nil for an irreversible unit.
func RegisterMigration(id string, up, down MigrationFunc) {
	migrations.MustAdd(id, up, down)
}

// Migrations returns the process-wide migration registry.
func Migrations() *migrate.Registry { return migrations }

// Migrate applies pending migrations against the write engine of the
// current connection and returns the ids it applied.
func Migrate(ctx context.Context) ([]string, error) {
	x, err := executor()
	if err != nil {
		return nil, err
	}
	return x.Migrate(ctx)
}

// Rollback reverts the most recently applied migration and returns its id,
// or "" when nothing is applied.
func Rollback(ctx context.Context) (string, error) {
	x, err := executor()
	if err != nil {
		return "", err
	}
	return x.Rollback(ctx)
}

// MigrationsStatus lists registered migrations in id order, followed by
// applied ids no registered unit carries.
func MigrationsStatus(ctx context.Context) ([]MigrationStatus, error) {
	x, err := executor()
	if err != nil {
		return nil, err
	}
	return x.Status(ctx)
}

func executor() (*migrate.Executor, error) {
	c, err := Current()
	if err != nil {
		return nil, err
	}
	mu.RLock()
	l := logger
	mu.RUnlock()
	return migrate.NewExecutor(c.Write(), migrations, migrate.WithLogger(l)), nil
}
