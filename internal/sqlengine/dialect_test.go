package sqlengine

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
)

func newMockEngine(t *testing.T, d *Dialect) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, d), mock
}

func TestPostgres_CreateUsesReturning(t *testing.T) {
	e, mock := newMockEngine(t, Postgres)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users" ("name") VALUES ($1) RETURNING "id"`)).
		WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	row, err := e.Create(context.Background(), "users", engine.Doc{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), row.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertManyInTransaction(t *testing.T) {
	e, mock := newMockEngine(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "posts" ("title") VALUES ($1), ($2) RETURNING "id"`)).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)).AddRow(int64(7)))
	mock.ExpectCommit()

	rows, err := e.InsertMany(context.Background(), "posts", []engine.Doc{{"title": "a"}, {"title": "b"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(7), rows[0].ID)
	assert.Equal(t, int64(8), rows[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindSortsNullsExplicitly(t *testing.T) {
	e, mock := newMockEngine(t, Postgres)
	joined := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "users" WHERE "rating" >= $1 ORDER BY "rating" ASC NULLS FIRST, "id" ASC LIMIT 1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rating", "joined"}).
			AddRow(int64(1), []byte("Alice"), int64(5), joined))

	rows, err := e.Find(context.Background(), "users", engine.FindQuery{
		Where: query.Gte("rating", 3),
		Sort:  []query.SortKey{{Field: "rating"}},
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, "Alice", rows[0].Fields["name"])
	assert.Equal(t, time.UTC, rows[0].Fields["joined"].(time.Time).Location())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"pgx unique", &pgconn.PgError{Code: "23505"}, dberr.IsConstraintViolation},
		{"pgx not null", &pgconn.PgError{Code: "23502"}, dberr.IsConstraintViolation},
		{"pgx undefined table", &pgconn.PgError{Code: "42P01"}, dberr.IsNotFound},
		{"pgx undefined column", &pgconn.PgError{Code: "42703"}, dberr.IsInvalidQuery},
		{"pgx connection", &pgconn.PgError{Code: "08006"}, dberr.IsConnection},
		{"pq unique", &pq.Error{Code: "23505"}, dberr.IsConstraintViolation},
		{"pq undefined table", &pq.Error{Code: "42P01"}, dberr.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newMockEngine(t, Postgres)
			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE 1 = 1`)).WillReturnError(tt.err)

			_, err := e.DeleteMany(context.Background(), "users", nil)
			require.Error(t, err)
			assert.True(t, tt.is(err), "got %v", err)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestMySQL_InsertManyUsesFirstInsertID(t *testing.T) {
	e, mock := newMockEngine(t, MySQL)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users` (`name`) VALUES (?), (?), (?)")).
		WithArgs("a", "b", "c").
		WillReturnResult(sqlmock.NewResult(10, 3))
	mock.ExpectCommit()

	rows, err := e.InsertMany(context.Background(), "users", []engine.Doc{{"name": "a"}, {"name": "b"}, {"name": "c"}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(11), int64(12)}, []any{rows[0].ID, rows[1].ID, rows[2].ID})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_InsertManyRollsBackOnError(t *testing.T) {
	e, mock := newMockEngine(t, MySQL)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`.*").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := e.InsertMany(context.Background(), "users", []engine.Doc{{"name": "a"}})
	assert.True(t, dberr.IsConstraintViolation(err), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		num  uint16
		is   func(error) bool
	}{
		{"duplicate", 1062, dberr.IsConstraintViolation},
		{"bad null", 1048, dberr.IsConstraintViolation},
		{"fk child", 1452, dberr.IsConstraintViolation},
		{"no table", 1146, dberr.IsNotFound},
		{"bad field", 1054, dberr.IsInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mock := newMockEngine(t, MySQL)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `users` WHERE 1 = 1")).
				WillReturnError(&mysql.MySQLError{Number: tt.num})

			_, err := e.Count(context.Background(), "users", nil)
			assert.True(t, tt.is(err), "got %v", err)
		})
	}
}

func TestMySQL_UpdateReportsMatchedRows(t *testing.T) {
	e, mock := newMockEngine(t, MySQL)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET `active` = ? WHERE `rating` > ?")).
		WithArgs(true, 3).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := e.UpdateMany(context.Background(), "users", query.Gt("rating", 3), engine.Doc{"active": true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_DecodesTinyintBooleans(t *testing.T) {
	assert.Equal(t, true, decodeValue("TINYINT", int64(1)))
	assert.Equal(t, false, decodeValue("BOOLEAN", int64(0)))
	assert.Equal(t, int64(1), decodeValue("BIGINT", int64(1)))
	assert.Equal(t, "x", decodeValue("VARCHAR", []byte("x")))
}

func TestEnsureCollection_AddsMissingColumns(t *testing.T) {
	e, mock := newMockEngine(t, Postgres)
	hint := engine.SchemaHint{Fields: []engine.ColumnHint{
		{Name: "name", Type: 1},
		{Name: "slug", Type: 1, Unique: true},
	}}

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "users"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE 1 = 0`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "users" ADD COLUMN "slug" TEXT`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE UNIQUE INDEX IF NOT EXISTS "users_slug_key" ON "users" ("slug")`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, e.EnsureCollection(context.Background(), "users", hint))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify_PassesThroughUnknownErrors(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := classify(cause, "users", "find")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, dberr.Code(""), dberr.CodeOf(err))
	assert.Nil(t, classify(nil, "users", "find"))
	assert.ErrorIs(t, classify(context.Canceled, "users", "find"), context.Canceled)
	assert.True(t, dberr.IsConnection(classify(driver.ErrBadConn, "users", "find")))
	assert.True(t, dberr.IsConstraintViolation(classify(errors.New("UNIQUE constraint failed: users.email"), "users", "create")))
	assert.True(t, dberr.IsInvalidQuery(classify(errors.New("table users has no column named x"), "users", "create")))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/app", redact("postgres://user:secret@db:5432/app"))
	assert.Equal(t, "host=db user=x", redact("host=db user=x"))
}
