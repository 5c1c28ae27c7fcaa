package apperr

import (
	"database/sql"
	"errors"
	"testing"
)

func TestConstructorsWrapSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"validation", Validation("title is %s", "empty"), ErrValidation},
		{"not found", NotFound("object", "abc"), ErrNotFound},
		{"conflict", Conflict("already tagged"), ErrConflict},
		{"internal", Internal("store: get object", sql.ErrConnDone), ErrInternal},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%s: %v does not wrap %v", tc.name, tc.err, tc.want)
		}
	}
}

func TestInternalKeepsCause(t *testing.T) {
	err := Internal("store: begin tx", sql.ErrTxDone)
	if !errors.Is(err, sql.ErrTxDone) {
		t.Fatalf("cause lost: %v", err)
	}
	if got := err.Error(); got != "store: begin tx: internal error: sql: transaction has already been committed or rolled back" {
		t.Errorf("message = %q", got)
	}
}
