package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

const sqlStateUndefinedFunction = "42883"

// IsUndefinedFunction reports whether err means a stored procedure is not
// deployed, or the call failed before the server could have run it.
func IsUndefinedFunction(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUndefinedFunction
	}
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "function") && strings.Contains(text, "does not exist") {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// ErrorText returns the server-side message of err when there is one.
func ErrorText(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Message != "" {
		return pgErr.Message
	}
	return err.Error()
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
