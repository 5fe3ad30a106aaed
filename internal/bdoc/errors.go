package bdoc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sumanyunandwani/AnalyzeAI/internal/ai"
	"github.com/sumanyunandwani/AnalyzeAI/internal/chain"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
)

var (
	ErrInvalidTag = errors.New("invalid tag")
	ErrNotFound   = errors.New("not found")
)

// ValidationError is a caller-fixable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func missingKey(k string) *ValidationError {
	return &ValidationError{Field: k, Message: "Missing or null key: " + k}
}

// PersistenceError wraps any storage failure. Earlier writes of the same
// execution are not rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

type ErrorKind string

const (
	KindValidation      ErrorKind = "validation_error"
	KindInvalidTag      ErrorKind = "invalid_tag"
	KindChainValidation ErrorKind = "chain_validation_error"
	KindQuotaExhausted  ErrorKind = "quota_exhausted"
	KindModelCall       ErrorKind = "model_call_error"
	KindPersistence     ErrorKind = "persistence_error"
	KindInternal        ErrorKind = "internal_error"
)

// Retryable reports whether a task queue may try the same job again.
func (k ErrorKind) Retryable() bool {
	return k == KindModelCall || k == KindPersistence
}

// Classify maps an execution error to its kind, an HTTP-equivalent status
// and the message shown to the caller.
func Classify(err error) (ErrorKind, int, string) {
	var (
		ve  *ValidationError
		cve *chain.ValidationError
		te  *chain.TemplateError
		mce *ai.ModelCallError
		pe  *PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation, http.StatusUnprocessableEntity, ve.Error()
	case errors.Is(err, identity.ErrInvalid):
		return KindValidation, http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ErrInvalidTag):
		return KindInvalidTag, http.StatusBadRequest, err.Error()
	case errors.As(err, &cve):
		return KindChainValidation, cve.StatusCode, cve.Message
	case errors.Is(err, quota.ErrExhausted):
		return KindQuotaExhausted, http.StatusForbidden, "No More Requests Left"
	case errors.As(err, &mce):
		return KindModelCall, http.StatusBadGateway, mce.Error()
	case errors.As(err, &pe):
		return KindPersistence, http.StatusInternalServerError, "failed to store the generated document"
	case errors.As(err, &te):
		return KindInternal, http.StatusInternalServerError, te.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindModelCall, http.StatusGatewayTimeout, err.Error()
	default:
		return KindInternal, http.StatusInternalServerError, "internal error"
	}
}
