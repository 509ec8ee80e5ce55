package casefs

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of these
// (ErrInvalidPath is itself a validation error).
var (
	ErrValidation  = errors.New("validation failed")
	ErrInvalidPath = fmt.Errorf("%w: invalid path", ErrValidation)
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrUpstream    = errors.New("upstream failure")
	ErrAuth        = errors.New("authentication required")
)

// ErrBlobNotFound is returned by BlobStore implementations when a key has no object.
var ErrBlobNotFound = errors.New("blob not found")

// Kind names used in structured failure output.
const (
	KindValidation = "validation"
	KindConflict   = "conflict"
	KindNotFound   = "not_found"
	KindUpstream   = "upstream"
	KindAuth       = "auth"
	KindInternal   = "internal"
)

// Classify maps an error to its kind name.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInternal
	}
}

// upstream wraps a store failure. Errors the stores already classified
// (unique violations surface as ErrConflict) keep their kind.
func upstream(action string, err error) error {
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return fmt.Errorf("%s: %w", action, err)
	}
	return fmt.Errorf("%s: %w: %w", action, ErrUpstream, err)
}

// ErrorBody is the error half of a Result.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the {success, data|error} envelope every caller-facing surface renders.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// NewResult builds the envelope for an operation outcome.
func NewResult(data any, err error) Result {
	if err != nil {
		return Result{Error: &ErrorBody{Kind: Classify(err), Message: err.Error()}}
	}
	return Result{Success: true, Data: data}
}
