package sqlengine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	moderncsqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgUndefinedTable      = "42P01"
	pgUndefinedColumn     = "42703"
	pgConnectionClass     = "08"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlBadNull          = 1048
	mysqlNoDefault        = 1364
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
	mysqlCheckViolation   = 3819
	mysqlNoSuchTable      = 1146
	mysqlBadField         = 1054
)

// errorKind is the driver-independent classification of a database error.
type errorKind int

const (
	kindOther errorKind = iota
	kindConstraint
	kindMissingTable
	kindMissingColumn
	kindConnection
)

// classify maps a driver error onto the mapper's error taxonomy.
// Errors it cannot classify are returned wrapped but otherwise unchanged.
func classify(err error, collection, op string) error {
	if err == nil {
		return nil
	}
	var de *dberr.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch kindOf(err) {
	case kindConstraint:
		return &dberr.Error{Code: dberr.CodeConstraintViolation, Collection: collection, Message: op + " violates a constraint", Cause: err}
	case kindMissingTable:
		return &dberr.Error{Code: dberr.CodeNotFound, Collection: collection, Message: "collection does not exist", Cause: err}
	case kindMissingColumn:
		return &dberr.Error{Code: dberr.CodeInvalidQuery, Collection: collection, Message: op + " references an unknown field", Cause: err}
	case kindConnection:
		return &dberr.Error{Code: dberr.CodeConnection, Collection: collection, Message: op + " lost the connection", Cause: err}
	}
	return fmt.Errorf("%s %s: %w", op, collection, err)
}

func kindOf(err error) errorKind {
	if isMattnConstraint(err) {
		return kindConstraint
	}

	var moderncErr *moderncsqlite.Error
	if errors.As(err, &moderncErr) {
		if moderncErr.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT {
			return kindConstraint
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if k := pgKind(pgErr.Code); k != kindOther {
			return k
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if k := pgKind(string(pqErr.Code)); k != kindOther {
			return k
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlBadNull, mysqlNoDefault,
			mysqlForeignKeyParent, mysqlForeignKeyChild, mysqlCheckViolation:
			return kindConstraint
		case mysqlNoSuchTable:
			return kindMissingTable
		case mysqlBadField:
			return kindMissingColumn
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return kindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return kindConnection
	}

	// Fallback for drivers that only report messages.
	msg := err.Error()
	switch {
	case containsAny(msg,
		"UNIQUE constraint failed",
		"NOT NULL constraint failed",
		"FOREIGN KEY constraint failed",
		"CHECK constraint failed",
		"violates unique constraint",
		"violates not-null constraint",
		"violates foreign key constraint",
		"Error 1062"):
		return kindConstraint
	case containsAny(msg, "no such table", "does not exist", "Error 1146"):
		if strings.Contains(msg, "column") {
			return kindMissingColumn
		}
		return kindMissingTable
	case containsAny(msg, "no such column", "has no column named", "Unknown column"):
		return kindMissingColumn
	}
	return kindOther
}

func pgKind(code string) errorKind {
	switch {
	case code == pgUniqueViolation, code == pgNotNullViolation,
		code == pgForeignKeyViolation, code == pgCheckViolation:
		return kindConstraint
	case code == pgUndefinedTable:
		return kindMissingTable
	case code == pgUndefinedColumn:
		return kindMissingColumn
	case strings.HasPrefix(code, pgConnectionClass):
		return kindConnection
	}
	return kindOther
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
