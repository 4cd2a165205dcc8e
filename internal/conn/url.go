package conn

import (
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// Backend names recognised in URL schemes.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendDocument = "document"
)

// Target is a parsed engine URL.
type Target struct {
	Backend string
	// Path is the SQLite file or document snapshot; empty for an in-memory
	// document engine.
	Path string
	// DSN is passed to the PostgreSQL driver.
	DSN string
	// MySQL is the driver configuration for MySQL targets.
	MySQL *mysql.Config
	// Driver selects an alternative database/sql driver (?driver=...).
	Driver string
}

// ParseURL resolves an engine URL.
//
//	sqlite:///app.db            relative file app.db
//	sqlite:////var/db/app.db    absolute file
//	sqlite:///:memory:          private in-memory database
//	postgres://u:p@host/db      (postgresql:// also accepted)
//	mysql://u:p@host:3306/db
//	document://                 in-memory document engine
//	document:///data.msgpack    document engine persisted to a snapshot
//
// A driver query parameter selects an alternative driver and is removed
// from the DSN.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, dberr.Connection(err, "parse connection url")
	}
	q := u.Query()
	driver := q.Get("driver")
	q.Del("driver")
	u.RawQuery = q.Encode()

	switch strings.ToLower(u.Scheme) {
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(u.Path, "/")
		if path == "" {
			return Target{}, dberr.Connection(nil, "sqlite url %q names no database", redactURL(u))
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
		return Target{Backend: BackendSQLite, Path: path, Driver: driver}, nil

	case "postgres", "postgresql":
		return Target{Backend: BackendPostgres, DSN: u.String(), Driver: driver}, nil

	case "mysql":
		cfg, err := mysqlConfig(u)
		if err != nil {
			return Target{}, err
		}
		return Target{Backend: BackendMySQL, MySQL: cfg, Driver: driver}, nil

	case "document":
		return Target{Backend: BackendDocument, Path: strings.TrimPrefix(u.Path, "/")}, nil
	}
	return Target{}, dberr.Connection(nil, "unsupported connection scheme %q", u.Scheme)
}

func mysqlConfig(u *url.URL) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	host, port := u.Hostname(), u.Port()
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if cfg.DBName == "" {
		return nil, dberr.Connection(nil, "mysql url %q names no database", redactURL(u))
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if len(u.Query()) > 0 {
		cfg.Params = make(map[string]string)
		for k, vs := range u.Query() {
			cfg.Params[k] = vs[len(vs)-1]
		}
	}
	return cfg, nil
}

// String renders the target without credentials.
func (t Target) String() string {
	switch t.Backend {
	case BackendPostgres:
		if u, err := url.Parse(t.DSN); err == nil {
			return redactURL(u)
		}
		return BackendPostgres
	case BackendMySQL:
		return "mysql://" + t.MySQL.Addr + "/" + t.MySQL.DBName
	case BackendDocument:
		if t.Path == "" {
			return "document://"
		}
	}
	return t.Backend + ":///" + t.Path
}

func redactURL(u *url.URL) string {
	c := *u
	if c.User != nil {
		c.User = url.User(c.User.Username())
	}
	return c.String()
}
