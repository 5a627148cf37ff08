package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error codes surfaced to callers. They are stable machine-readable kinds;
// the HTTP status is carried alongside so controllers map them directly.
const (
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	CodePatchNotFound  = "PATCH_NOT_FOUND"
	CodeEmptyChanges   = "EMPTY_CHANGES"
	CodeBadRequest     = "BAD_REQUEST"
	CodeForbidden      = "FORBIDDEN"
	CodeServerError    = "SERVER_ERROR"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func errEmptyChanges() error {
	return newServiceError(http.StatusBadRequest, CodeEmptyChanges, "computed diff is empty", nil)
}

func errForbidden(message string) error {
	return newServiceError(http.StatusForbidden, CodeForbidden, message, nil)
}

func errBadRequest(message string) error {
	return newServiceError(http.StatusBadRequest, CodeBadRequest, message, nil)
}

// mapPgError translates storage failures into coded service errors. Business
// errors pass through untouched.
func mapPgError(err error, notFoundCode string) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, notFoundCode, "not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return newServiceError(http.StatusConflict, CodeBadRequest, "record already exists", err)
		case "23503": // foreign_key_violation
			return newServiceError(http.StatusUnprocessableEntity, CodeBadRequest, "referenced record not found", err)
		default:
			return newServiceError(http.StatusInternalServerError, CodeServerError, fmt.Sprintf("database error (%s)", pgErr.Code), err)
		}
	}

	return newServiceError(http.StatusInternalServerError, CodeServerError, "storage failure", err)
}
