package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "should vanish"))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, ErrCodeInternal, "operation failed")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "operation failed")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("rule", "abc")))
	assert.Equal(t, ErrCodeValidation, CodeOf(InvalidInput("pattern", "required")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))

	wrapped := Wrap(New(ErrCodeDuplicateVote, "dup"), ErrCodeDuplicateVote, "outer")
	assert.Equal(t, ErrCodeDuplicateVote, CodeOf(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ErrCodeValidation, http.StatusUnprocessableEntity},
		{ErrCodeInsufficientCredits, http.StatusPaymentRequired},
		{ErrCodeDuplicateVote, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusConflict},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.code, "x")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("plain")))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(stderrors.New("not pg")))
	assert.False(t, IsUniqueViolation(nil))

	wrapped := Wrap(&pgconn.PgError{Code: "23505"}, ErrCodeInternal, "insert failed")
	assert.True(t, IsUniqueViolation(wrapped))
}
