package pgrepos

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/core"
)

// postgres error codes
const (
	foreignKeyViolation  = "23503"
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
)

// trapNoRowsErr maps "no rows" to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return trapPgErr(err, msg)
}

// trapPgErr turns errors caused by concurrent writers into a conflict the caller may retry.
func trapPgErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case uniqueViolation, serializationFailure, deadlockDetected, lockNotAvailable:
		return core.NewStateError(core.StateConflict, "the record was changed by another request, please retry")
	}
	return errors.Wrap(err, msg)
}

func pgCode(err error) pq.ErrorCode {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code
	}
	return ""
}

// checkAffected returns notFound when res affected no row.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
