// Package coreerr defines the error taxonomy shared by every subsystem:
// a stable string code, a category, and a retryable flag, plus the mapping
// from internal errors onto the RPC Dispatcher's structured error codes.
package coreerr

import "fmt"

// Category classifies the origin of an error.
type Category string

const (
	CategoryFilesystem   Category = "filesystem"
	CategoryDatabase     Category = "database"
	CategoryNetwork      Category = "network"
	CategorySessionState Category = "session_state"
	CategoryEventPersist Category = "event_persist"
	CategorySecurity     Category = "security"
)

// Code enumerates the RPC-visible error codes from spec §6.
type Code string

const (
	CodeInvalidParams     Code = "INVALID_PARAMS"
	CodeMethodNotFound    Code = "METHOD_NOT_FOUND"
	CodeNotSupported      Code = "NOT_SUPPORTED"
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeAlreadyInPlanMode Code = "ALREADY_IN_PLAN_MODE"
	CodeNotInPlanMode     Code = "NOT_IN_PLAN_MODE"
	CodeSessInvalid       Code = "SESS_INVALID"
	CodeSessConflict      Code = "SESS_CONFLICT"
	CodeEvntPersist       Code = "EVNT_PERSIST"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeInvalidParent     Code = "INVALID_PARENT"
	CodeSchemaMismatch    Code = "SCHEMA_MISMATCH"
	CodeAuthFailed        Code = "AUTH_FAILED"
)

// Error is a classified, optionally-retryable error carrying an RPC code.
type Error struct {
	Code      Code
	Category  Category
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified Error.
func New(code Code, category Category, retryable bool, message string) *Error {
	return &Error{Code: code, Category: category, Retryable: retryable, Message: message}
}

// Wrap classifies an existing error under the given code/category.
func Wrap(code Code, category Category, retryable bool, message string, err error) *Error {
	return &Error{Code: code, Category: category, Retryable: retryable, Message: message, Err: err}
}

// SessionNotFound builds the standard "session not found" error.
func SessionNotFound(sessionID string) *Error {
	return New(CodeSessionNotFound, CategorySessionState, false, fmt.Sprintf("session not found: %s", sessionID))
}

// InvalidParent builds the standard "parent would form a cycle or doesn't
// belong to this session" error.
func InvalidParent(message string) *Error {
	return New(CodeInvalidParent, CategoryEventPersist, false, message)
}

// SchemaMismatch builds the standard schema-version-refusal error.
func SchemaMismatch(onDisk, expected int) *Error {
	return New(CodeSchemaMismatch, CategoryDatabase, false,
		fmt.Sprintf("schema version %d is newer than supported version %d", onDisk, expected))
}

// AsCode extracts the RPC code from err if it is (or wraps) a *Error,
// otherwise returns INTERNAL_ERROR.
func AsCode(err error) Code {
	var ce *Error
	if asError(err, &ce) {
		return ce.Code
	}
	return CodeInternalError
}

// asError is a small helper mirroring errors.As without importing errors
// twice across call sites that already alias it.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
