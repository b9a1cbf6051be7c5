// Package ddaerr defines the tagged domain-error taxonomy shared across
// DDALAB components, translated by HTTP/WS handlers into {error, code}
// JSON payloads.
package ddaerr

import "fmt"

// Error is a domain error carrying a stable machine-readable code.
type Error struct {
	Msg  string
	code string
}

func (e *Error) Error() string { return e.Msg }

// Code returns the machine-readable error code (e.g. "FILE_NOT_FOUND").
func (e *Error) Code() string { return e.code }

func newErr(code, format string, args ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), code: code}
}

// ErrFileNotFound indicates the requested input file does not exist.
func ErrFileNotFound(path string) *Error {
	return newErr("FILE_NOT_FOUND", "file not found: %s", path)
}

// ErrForbiddenPath indicates a resolved path escaped its allowed base directory.
func ErrForbiddenPath(path string) *Error {
	return newErr("FORBIDDEN_PATH", "path not permitted: %s", path)
}

// ErrExecutionFailed indicates the DDA binary exited non-zero.
func ErrExecutionFailed(status int, stderr string) *Error {
	return newErr("EXECUTION_FAILED", "dda binary exited %d: %s", status, stderr)
}

// ErrParseFailed indicates DDA output could not be parsed.
func ErrParseFailed(reason string) *Error {
	return newErr("PARSE_FAILED", "%s", reason)
}

// ErrJobNotFound indicates no job exists with the given id.
func ErrJobNotFound(id string) *Error {
	return newErr("JOB_NOT_FOUND", "job not found: %s", id)
}

// ErrInvalidState indicates an operation was attempted against a job/task in
// an incompatible lifecycle state.
func ErrInvalidState(what, state string) *Error {
	return newErr("INVALID_STATE", "%s is in state %s", what, state)
}

// ErrUploadTooLarge indicates a multipart upload exceeded the configured limit.
func ErrUploadTooLarge(limit int64) *Error {
	return newErr("UPLOAD_TOO_LARGE", "upload exceeds maximum size of %d bytes", limit)
}

// ErrSessionExpired indicates a session token is no longer valid.
func ErrSessionExpired() *Error {
	return newErr("SESSION_EXPIRED", "session has expired or does not exist")
}

// ErrRateLimited indicates a client has exceeded the auth rate limit.
func ErrRateLimited() *Error {
	return newErr("RATE_LIMITED", "too many failed attempts, try again later")
}

// ErrInviteExpired indicates a federation invite is expired, accepted, or revoked.
func ErrInviteExpired(id string) *Error {
	return newErr("INVITE_EXPIRED", "invite %s is expired, accepted, or revoked", id)
}

// ErrInviteNotFound indicates no federation invite exists with the given id.
func ErrInviteNotFound(id string) *Error {
	return newErr("INVITE_NOT_FOUND", "invite not found: %s", id)
}

// ErrNotImplemented indicates a wire-present but unimplemented operation.
func ErrNotImplemented(op string) *Error {
	return newErr("NOT_IMPLEMENTED", "%s is not yet implemented", op)
}
