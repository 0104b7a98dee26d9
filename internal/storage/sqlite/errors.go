package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/remitflow/remitflow/internal/storage"
)

// wrapDBError wraps a database error with operation context. It converts
// sql.ErrNoRows to storage.ErrNotFound and unique-constraint violations to
// storage.ErrConflict for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf is wrapDBError with a formatted operation string.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// isConstraintViolation reports whether err is a SQLite UNIQUE/CHECK
// constraint failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// isBusy reports whether err is SQLITE_BUSY / database locked.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
