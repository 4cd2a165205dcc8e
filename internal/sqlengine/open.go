package sqlengine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// Driver names accepted by WithDriver.
const (
	DriverMattn   = "mattn"   // github.com/mattn/go-sqlite3 (cgo), the SQLite default
	DriverModernc = "modernc" // modernc.org/sqlite (pure Go)
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib, the PostgreSQL default
	DriverPQ      = "pq"      // github.com/lib/pq
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// busyTimeout is applied to every SQLite connection.
const busyTimeoutMillis = "5000"

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	poolSize int
	driver   string
}

// WithLogger sets the logger for statement tracing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPoolSize bounds open connections. Zero keeps the driver default
// (one connection for SQLite).
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithDriver selects the database/sql driver for the backend.
func WithDriver(name string) Option {
	return func(o *options) { o.driver = name }
}

func collectOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// OpenSQLite opens a SQLite database file, or a private in-memory database
// for MemoryPath.
//
// Every connection gets a 5-second busy timeout and foreign key
// enforcement; file databases use WAL mode. The pool defaults to a single
// connection (SQLite allows one writer at a time), and in-memory databases
// are always pinned to one connection since each connection would
// otherwise see its own empty database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	o := collectOptions(opts)
	memory := path == MemoryPath

	var driverName, dsn string
	switch o.driver {
	case "", DriverMattn:
		driverName = "sqlite3"
		params := "_busy_timeout=" + busyTimeoutMillis + "&_foreign_keys=on"
		if !memory {
			params += "&_journal_mode=WAL"
		}
		dsn = appendParams(path, params)
	case DriverModernc:
		driverName = "sqlite"
		params := "_pragma=busy_timeout(" + busyTimeoutMillis + ")&_pragma=foreign_keys(1)&_time_format=sqlite"
		if !memory {
			params += "&_pragma=journal_mode(WAL)"
		}
		dsn = appendParams(path, params)
	default:
		return nil, dberr.Connection(nil, "unknown sqlite driver %q", o.driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, dberr.Connection(err, "open sqlite %s", path)
	}

	pool := o.poolSize
	if pool <= 0 || memory {
		pool = 1
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	if memory {
		// Closing the only connection would discard the database.
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	return finishOpen(ctx, db, SQLite, "sqlite", path, opts)
}

// OpenPostgres opens a PostgreSQL database through pgx, or lib/pq when
// WithDriver(DriverPQ) is given.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Engine, error) {
	o := collectOptions(opts)

	var db *sql.DB
	switch o.driver {
	case "", DriverPgx:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, dberr.Connection(err, "parse postgres dsn")
		}
		db = stdlib.OpenDB(*cfg)
	case DriverPQ:
		var err error
		if db, err = sql.Open("postgres", dsn); err != nil {
			return nil, dberr.Connection(err, "open postgres")
		}
	default:
		return nil, dberr.Connection(nil, "unknown postgres driver %q", o.driver)
	}
	if o.poolSize > 0 {
		db.SetMaxOpenConns(o.poolSize)
		db.SetMaxIdleConns(o.poolSize)
	}
	return finishOpen(ctx, db, Postgres, "postgres", redact(dsn), opts)
}

// OpenMySQL opens a MySQL database. Timestamps are parsed in UTC and
// affected-row counts report matched rather than changed rows.
func OpenMySQL(ctx context.Context, cfg *mysql.Config, opts ...Option) (*Engine, error) {
	o := collectOptions(opts)
	cfg = cfg.Clone()
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, dberr.Connection(err, "configure mysql")
	}
	db := sql.OpenDB(connector)
	if o.poolSize > 0 {
		db.SetMaxOpenConns(o.poolSize)
		db.SetMaxIdleConns(o.poolSize)
	}
	return finishOpen(ctx, db, MySQL, "mysql", cfg.Addr+"/"+cfg.DBName, opts)
}

func finishOpen(ctx context.Context, db *sql.DB, d *Dialect, backend, target string, opts []Option) (*Engine, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dberr.Connection(err, "connect to %s %s", backend, target)
	}
	e := New(db, d, opts...)
	e.logger.Info("engine opened", "engine", backend, "target", target)
	return e, nil
}

func appendParams(path, params string) string {
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// redact drops credentials from a URL-style DSN for logging.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
