package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"taskmanager/domain"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
)

// MapError translates PostgreSQL driver errors into the domain taxonomy.
// Anything without a specific mapping becomes a DownstreamError for op.
func MapError(err error, op, entity, key string) error {
	if err == nil {
		return nil
	}
	if domain.Classified(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.NotFoundError{Entity: entity, ID: key}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return &domain.ConflictError{Entity: entity, Key: key, Err: err}
		case foreignKeyViolationCode:
			return &domain.NotFoundError{Entity: "referenced row for " + entity, ID: key}
		case checkViolationCode:
			return domain.NewValidationError(pgErr.ConstraintName, "check constraint violated")
		case notNullViolationCode:
			return domain.NewValidationError(pgErr.ColumnName, "value is required")
		}
	}
	return &domain.DownstreamError{Store: "ros", Op: op, Err: err}
}
