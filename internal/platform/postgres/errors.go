package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"
)

// IsUniqueViolation checks if the given error is a PostgreSQL unique
// constraint violation. A duplicate job id surfaces this way when the
// conditional upsert races with a concurrent insert.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsCheckConstraintViolation checks if the given error is a PostgreSQL
// check constraint violation, e.g. an unknown state value.
func IsCheckConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == checkViolationCode
}

// mapJobError translates low-level database errors into the job store's
// sentinel errors so callers never depend on driver details.
func mapJobError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return queue.ErrJobNotFound
	}
	if IsUniqueViolation(err) {
		return queue.ErrJobExists
	}
	if IsCheckConstraintViolation(err) {
		// the jobs table rejects state values outside the lifecycle
		return fmt.Errorf("%w: %v", domain.ErrInvalidJobState, err)
	}
	return err
}

// checkRowsAffected examines the number of rows touched by an update.
// Zero rows means the target job does not exist.
func checkRowsAffected(result sql.Result) error {
	if result == nil {
		return fmt.Errorf("nil result provided to checkRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	return nil
}
