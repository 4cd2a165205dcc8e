package dberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "bare",
			err:  &Error{Code: CodeInvalidQuery, Message: "negative limit"},
			want: "INVALID_QUERY: negative limit",
		},
		{
			name: "collection and field",
			err:  ConstraintViolation("users", "email", "duplicate value"),
			want: "CONSTRAINT_VIOLATION: duplicate value (collection=users, field=email)",
		},
		{
			name: "collection only",
			err:  NotFound("posts", "no matching record"),
			want: "NOT_FOUND: no matching record (collection=posts)",
		},
		{
			name: "field only",
			err:  InvalidQuery("rating", "unknown operator %q", "$near"),
			want: `INVALID_QUERY: unknown operator "$near" (field=rating)`,
		},
		{
			name: "with cause",
			err:  Connection(errors.New("dial tcp: refused"), "open postgres"),
			want: "CONNECTION: open postgres: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsHelpers_MatchWrappedErrors(t *testing.T) {
	base := NotFound("users", "missing")
	wrapped := fmt.Errorf("get user: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConstraintViolation(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))

	assert.True(t, IsConstraintViolation(ConstraintViolation("u", "f", "x")))
	assert.True(t, IsInvalidQuery(InvalidQuery("f", "x")))
	assert.True(t, IsRelationshipDeclaration(RelationshipDeclaration("User", "posts", "x")))
	assert.True(t, IsConnection(Connection(nil, "x")))
	assert.True(t, IsInert(Inert("users")))
}

func TestSentinels_MatchByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ConstraintViolation("users", "email", "duplicate"))

	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("driver failure")
	err := Wrap(CodeConnection, "users", cause, "query failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeConnection, CodeOf(err))
	assert.NoError(t, Wrap(CodeConnection, "users", nil, "unused"))
}
