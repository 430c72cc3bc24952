package runner

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the executor reacts to.
const (
	codeQueryCanceled     = "57014"
	codeUndefinedTable    = "42P01"
	codeUndefinedColumn   = "42703"
	codeInvalidSchemaName = "3F000"
	codeUndefinedFunction = "42883"
)

func pgErrCode(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	return "", false
}

// isTimeoutErr reports whether the statement hit the per-statement
// deadline, either via the driver context or a server-side cancel.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code, ok := pgErrCode(err); ok && code == codeQueryCanceled {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// isMissingRelationErr reports whether the statement referenced a
// table, column, or schema the bootstrapper never created. Vignette
// snippets are illustrative fragments; these are skips, not failures.
func isMissingRelationErr(err error) bool {
	code, ok := pgErrCode(err)
	if !ok {
		return false
	}
	switch code {
	case codeUndefinedTable, codeUndefinedColumn, codeInvalidSchemaName:
		return true
	default:
		return false
	}
}

func isUndefinedRoutineErr(err error) bool {
	code, ok := pgErrCode(err)
	return ok && code == codeUndefinedFunction
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
