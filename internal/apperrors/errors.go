// Package apperrors defines the standardized error taxonomy shared by every
// layer of the control plane: repositories, backends, services, and the
// HTTP surface all return *AppError so handlers can map a single type to a
// response body and status code.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes use a dotted Namespace.Reason convention so clients can branch
// on the namespace without parsing free text.
const (
	CodeSessionValidation     = "Session.ValidationError"
	CodeSessionNotFound       = "Session.NotFound"
	CodeSessionStateConflict  = "Session.StateConflict"
	CodeSessionLimitExceeded  = "Session.ResourceExhausted"
	CodeExecutionValidation   = "Execution.ValidationError"
	CodeExecutionUnknownStatus = "Execution.UnknownStatus"
	CodeExecutionNotFound     = "Execution.NotFound"
	CodeExecutionStateConflict = "Execution.StateConflict"
	CodeTemplateValidation    = "Template.ValidationError"
	CodeTemplateNotFound      = "Template.NotFound"
	CodeTemplateDuplicate     = "Template.AlreadyExists"
	CodeSchedulerNoHealthyNode = "Scheduler.NoHealthyNode"
	CodeBackendUnavailable    = "Backend.Unavailable"
	CodeBackendNotFound       = "Backend.ContainerNotFound"
	CodeStorageUnavailable    = "Storage.Unavailable"
	CodeStorageNotFound       = "Storage.NotFound"
	CodeExecutorCallFailed    = "Executor.CallFailed"
	CodeFileValidation        = "File.ValidationError"
	CodeInternal              = "Internal.Unexpected"
)

// AppError is the single error type every exported operation returns.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"description"`
	Detail     string `json:"error_detail,omitempty"`
	Solution   string `json:"solution,omitempty"`
	StatusCode int    `json:"-"`
	cause      error
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// ErrorResponse is the JSON body shape returned to API clients.
type ErrorResponse struct {
	ErrorCode   string `json:"error_code"`
	Description string `json:"description"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Solution    string `json:"solution,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// ToResponse renders the error for an HTTP response body, stamping the
// request id supplied by middleware.
func (e *AppError) ToResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		ErrorCode:   e.Code,
		Description: e.Message,
		ErrorDetail: e.Detail,
		Solution:    e.Solution,
		RequestID:   requestID,
	}
}

// New builds an AppError for code with its conventional status.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// WithDetail attaches extra debugging context to an existing error.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithSolution attaches an actionable hint for the caller.
func (e *AppError) WithSolution(solution string) *AppError {
	cp := *e
	cp.Solution = solution
	return &cp
}

// Wrap preserves cause for Unwrap/errors.Is/As chains while presenting the
// standardized shape to callers.
func Wrap(code, message string, cause error) *AppError {
	e := New(code, message)
	e.cause = cause
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func statusForCode(code string) int {
	switch code {
	case CodeExecutionUnknownStatus:
		return http.StatusBadRequest
	case CodeSessionValidation, CodeExecutionValidation, CodeTemplateValidation, CodeFileValidation:
		return http.StatusUnprocessableEntity
	case CodeSessionNotFound, CodeExecutionNotFound, CodeTemplateNotFound, CodeBackendNotFound, CodeStorageNotFound:
		return http.StatusNotFound
	case CodeSessionStateConflict, CodeExecutionStateConflict, CodeTemplateDuplicate:
		return http.StatusConflict
	case CodeSessionLimitExceeded:
		return http.StatusTooManyRequests
	case CodeSchedulerNoHealthyNode, CodeBackendUnavailable, CodeStorageUnavailable, CodeExecutorCallFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors mirroring the call sites used throughout the
// services layer.

func SessionNotFound(id string) *AppError {
	return New(CodeSessionNotFound, "session not found").WithDetail(id)
}

func SessionValidation(msg string) *AppError {
	return New(CodeSessionValidation, msg)
}

func SessionStateConflict(msg string) *AppError {
	return New(CodeSessionStateConflict, msg)
}

func ExecutionNotFound(id string) *AppError {
	return New(CodeExecutionNotFound, "execution not found").WithDetail(id)
}

func ExecutionValidation(msg string) *AppError {
	return New(CodeExecutionValidation, msg)
}

func ExecutionUnknownStatus(status string) *AppError {
	return New(CodeExecutionUnknownStatus, "unknown result status").WithDetail(status)
}

func ExecutionStateConflict(msg string) *AppError {
	return New(CodeExecutionStateConflict, msg)
}

func TemplateNotFound(id string) *AppError {
	return New(CodeTemplateNotFound, "template not found").WithDetail(id)
}

func TemplateDuplicate(id string) *AppError {
	return New(CodeTemplateDuplicate, "template already exists").WithDetail(id)
}

func TemplateValidation(msg string) *AppError {
	return New(CodeTemplateValidation, msg)
}

func NoHealthyNode(runtimeType string) *AppError {
	return New(CodeSchedulerNoHealthyNode, "no healthy node available").WithDetail(runtimeType)
}

func BackendUnavailable(cause error) *AppError {
	return Wrap(CodeBackendUnavailable, "container backend unavailable", cause)
}

func BackendNotFound(containerID string) *AppError {
	return New(CodeBackendNotFound, "container not found").WithDetail(containerID)
}

func StorageUnavailable(cause error) *AppError {
	return Wrap(CodeStorageUnavailable, "object storage unavailable", cause)
}

func StorageNotFound(path string) *AppError {
	return New(CodeStorageNotFound, "object not found").WithDetail(path)
}

func ExecutorCallFailed(cause error) *AppError {
	return Wrap(CodeExecutorCallFailed, "call to executor agent failed", cause)
}

func FileValidation(msg string) *AppError {
	return New(CodeFileValidation, msg)
}

func Internal(cause error) *AppError {
	return Wrap(CodeInternal, "unexpected internal error", cause)
}

// As is a thin re-export of errors.As so callers need only import this
// package when branching on AppError.
func As(err error, target **AppError) bool {
	return errors.As(err, target)
}
