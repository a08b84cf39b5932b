package access

import (
	"context"
	"errors"
	"fmt"

	"eduapp/pkg/logger"
	"eduapp/pkg/store"
)

// Error kinds. Match them with errors.Is; the store's status codes never
// leave this package.
var (
	ErrNotFound         = errors.New("not found")
	ErrWriteConflict    = errors.New("write conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Error records the operation and key that failed along with its kind.
type Error struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// KindName is the short label used in logs, metrics and API error bodies.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrWriteConflict):
		return "write_conflict"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

func kindOf(err error) error {
	if store.IsNoDatabase(err) {
		return ErrStoreUnavailable
	}
	switch store.Status(err) {
	case store.StatusNotFound:
		return ErrNotFound
	case store.StatusConflict:
		return ErrWriteConflict
	case store.StatusBadRequest:
		return ErrInvalidRequest
	default:
		return ErrStoreUnavailable
	}
}

// fail builds the normalized error and logs it once.
func fail(op, key string, kind, cause error) *Error {
	e := &Error{Op: op, Key: key, Kind: kind, Err: cause}
	args := []any{"op", op, "key", key, "kind", KindName(kind), "error", cause}
	if kind == ErrStoreUnavailable {
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			logger.Warn("access_"+op+"_aborted", args...)
		} else {
			logger.Error("access_"+op+"_failed", args...)
		}
	} else {
		logger.Warn("access_"+op+"_rejected", args...)
	}
	return e
}

// classify maps a store failure onto a kind. Status errors are reduced to
// their reason so no status code survives in the chain or the message;
// transport and context errors are kept as is.
func classify(op, key string, err error) *Error {
	return fail(op, key, kindOf(err), store.Flatten(err))
}
