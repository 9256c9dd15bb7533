package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgxErrorCode extracts the SQLSTATE code from a pgx error, or "" if err is
// not (or does not wrap) a *pgconn.PgError.
func pgxErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
