package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// Code classifies errors surfaced to callers.
type Code uint8

const (
	// CodeNotFound means a reference, key, or content is absent.
	CodeNotFound Code = iota + 1
	// CodeReferenceConflict means a CAS retry loop was exhausted.
	CodeReferenceConflict
	// CodeContentConflict means one or more per-key conflicts were found.
	CodeContentConflict
	// CodeAlreadyExists means a create-only operation hit an existing entity.
	CodeAlreadyExists
	// CodeInvalidArgument means the request was malformed.
	CodeInvalidArgument
	// CodeUnavailable means a retryable backend failure exhausted its retries.
	CodeUnavailable
	// CodeInternal means an invariant was violated or a codec failed.
	CodeInternal
	// CodeDeadlineExceeded means the caller supplied deadline elapsed.
	CodeDeadlineExceeded
)

// String returns the wire name of the code.
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeReferenceConflict:
		return "ReferenceConflict"
	case CodeContentConflict:
		return "ContentConflict"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeUnavailable:
		return "Unavailable"
	case CodeInternal:
		return "Internal"
	case CodeDeadlineExceeded:
		return "DeadlineExceeded"
	default:
		return "Unknown"
	}
}

// Status returns the HTTP style status for the code.
func (c Code) Status() int {
	switch c {
	case CodeNotFound:
		return 404
	case CodeReferenceConflict, CodeContentConflict, CodeAlreadyExists:
		return 409
	case CodeInvalidArgument:
		return 400
	case CodeUnavailable:
		return 503
	case CodeDeadlineExceeded:
		return 504
	default:
		return 500
	}
}

// ConflictKind classifies a single keyed conflict.
type ConflictKind uint8

const (
	// ConflictPayloadDiffers means both sides changed the key differently.
	ConflictPayloadDiffers ConflictKind = iota + 1
	// ConflictKeyExists means a key required to be absent exists.
	ConflictKeyExists
	// ConflictKeyDoesNotExist means a key required to exist is absent.
	ConflictKeyDoesNotExist
)

// String returns the wire name of the conflict kind.
func (k ConflictKind) String() string {
	switch k {
	case ConflictPayloadDiffers:
		return "PayloadDiffers"
	case ConflictKeyExists:
		return "KeyExists"
	case ConflictKeyDoesNotExist:
		return "KeyDoesNotExist"
	default:
		return "Unknown"
	}
}

// Conflict describes a single keyed conflict.
type Conflict struct {
	Key     object.Key
	Kind    ConflictKind
	Message string
}

// Error is the error shape surfaced on the service boundary.
type Error struct {
	Code      Code
	Reason    string
	Message   string
	Conflicts []Conflict
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	for _, c := range e.Conflicts {
		fmt.Fprintf(&sb, "; %s %s: %s", c.Kind, c.Key, c.Message)
	}
	return sb.String()
}

// Status returns the HTTP style status for the error.
func (e *Error) Status() int {
	return e.Code.Status()
}

// Errorf returns a new Error with the given code and formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConflictError returns an aggregate conflict error.
func ConflictError(code Code, reason string, conflicts []Conflict) *Error {
	return &Error{
		Code:      code,
		Reason:    reason,
		Message:   fmt.Sprintf("%d conflicts", len(conflicts)),
		Conflicts: conflicts,
	}
}

// CodeOf returns the code carried by the error, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// mapStorageErr translates adapter errors into boundary errors. Retryable
// failures are expected to have exhausted their retries by the time they
// reach this mapping.
func mapStorageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Errorf(CodeDeadlineExceeded, "deadline exceeded: %v", err)
	case storage.ErrNotFound.Has(err):
		return Errorf(CodeNotFound, "%v", err)
	case storage.ErrAlreadyExists.Has(err):
		return Errorf(CodeAlreadyExists, "%v", err)
	case storage.ErrCasMismatch.Has(err):
		return Errorf(CodeReferenceConflict, "%v", err)
	case storage.ErrUnavailable.Has(err):
		return Errorf(CodeUnavailable, "%v", err)
	default:
		return Errorf(CodeInternal, "%v", err)
	}
}
