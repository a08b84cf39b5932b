package store

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	StatusBadRequest         = http.StatusBadRequest
	StatusNotFound           = http.StatusNotFound
	StatusConflict           = http.StatusConflict
	StatusPreconditionFailed = http.StatusPreconditionFailed
	StatusInternal           = http.StatusInternalServerError
)

// StatusError is a failure the store answered with. Transport failures are
// plain errors and carry no status.
type StatusError struct {
	Code   int
	Name   string
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("store: %d %s", e.Code, e.Name)
	}
	return fmt.Sprintf("store: %d %s: %s", e.Code, e.Name, e.Reason)
}

// ReasonNoDatabase is the not_found reason given when the database itself is
// missing rather than a document in it.
const ReasonNoDatabase = "Database does not exist."

func NotFound(reason string) error {
	return &StatusError{Code: StatusNotFound, Name: "not_found", Reason: reason}
}

func NoDatabase() error { return NotFound(ReasonNoDatabase) }

func Conflict(reason string) error {
	return &StatusError{Code: StatusConflict, Name: "conflict", Reason: reason}
}

func BadRequest(reason string) error {
	return &StatusError{Code: StatusBadRequest, Name: "bad_request", Reason: reason}
}

func FileExists(reason string) error {
	return &StatusError{Code: StatusPreconditionFailed, Name: "file_exists", Reason: reason}
}

// Status extracts the status code from err, or 0 when err carries none.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsStatus reports whether err carries the given status code.
func IsStatus(err error, code int) bool {
	return err != nil && Status(err) == code
}

// IsNoDatabase reports whether err says the database was never created.
func IsNoDatabase(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == StatusNotFound && se.Reason == ReasonNoDatabase
}

// IsDocumentNotFound reports a not_found that concerns a document or view,
// not the database holding it.
func IsDocumentNotFound(err error) bool {
	return IsStatus(err, StatusNotFound) && !IsNoDatabase(err)
}

// Flatten replaces a status error with a plain error holding only its reason,
// so callers cannot recover the status code. Other errors are returned as is.
func Flatten(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	if se.Reason != "" {
		return errors.New(se.Reason)
	}
	return errors.New(strings.ReplaceAll(se.Name, "_", " "))
}
