package errors

import (
	"fmt"
	"net/http"
)

// ErrorType is the closed set of control-plane error kinds.
type ErrorType string

const (
	ErrTypeSSHUnavailable    ErrorType = "SSH_UNAVAILABLE"
	ErrTypeCommandTimeout    ErrorType = "COMMAND_TIMEOUT"
	ErrTypeRegistryNotFound  ErrorType = "REGISTRY_NOT_FOUND"
	ErrTypeRegistryConflict  ErrorType = "REGISTRY_CONFLICT"
	ErrTypeSlotBusy          ErrorType = "SLOT_BUSY"
	ErrTypeNoDeployedCandid  ErrorType = "NO_DEPLOYED_CANDIDATE"
	ErrTypeNoRollbackTarget  ErrorType = "NO_ROLLBACK_TARGET"
	ErrTypeGraceNotExpired   ErrorType = "GRACE_NOT_EXPIRED"
	ErrTypeHealthcheckFailed ErrorType = "HEALTHCHECK_FAILED"
	ErrTypeBackupNotFound    ErrorType = "BACKUP_NOT_FOUND"
	ErrTypeEnvAlreadyExists  ErrorType = "ENV_ALREADY_EXISTS"
	ErrTypeInvalidInput      ErrorType = "INVALID_INPUT"
	ErrTypeInternal          ErrorType = "INTERNAL_ERROR"
)

// AppError is the control plane's application-level error type.
type AppError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Details    map[string]interface{}
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewSSHUnavailableError wraps a failure to reach a host over SSH.
func NewSSHUnavailableError(host string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeSSHUnavailable,
		Message:    fmt.Sprintf("ssh host %q unavailable", host),
		Cause:      cause,
		StatusCode: http.StatusBadGateway,
	}
}

// NewCommandTimeoutError wraps a remote command that exceeded its deadline.
func NewCommandTimeoutError(command string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeCommandTimeout,
		Message:    fmt.Sprintf("command %q timed out", command),
		Cause:      cause,
		StatusCode: http.StatusGatewayTimeout,
	}
}

// NewRegistryNotFoundError reports a missing (project, environment) slot registry.
func NewRegistryNotFoundError(project, environment string) *AppError {
	return &AppError{
		Type:       ErrTypeRegistryNotFound,
		Message:    fmt.Sprintf("no slot registry for project %q environment %q", project, environment),
		StatusCode: http.StatusNotFound,
	}
}

// NewRegistryConflictError reports a registry write that lost a race or failed its CAS.
func NewRegistryConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeRegistryConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewSlotBusyError reports an operation rejected because the target slot is locked.
func NewSlotBusyError(project, environment string) *AppError {
	return &AppError{
		Type:       ErrTypeSlotBusy,
		Message:    fmt.Sprintf("slot for project %q environment %q is busy", project, environment),
		StatusCode: http.StatusConflict,
	}
}

// NewNoDeployedCandidateError reports a promote attempted with nothing deployed in the inactive slot.
func NewNoDeployedCandidateError(project, environment string) *AppError {
	return &AppError{
		Type:       ErrTypeNoDeployedCandid,
		Message:    fmt.Sprintf("no deployed candidate to promote for project %q environment %q", project, environment),
		StatusCode: http.StatusConflict,
	}
}

// NewNoRollbackTargetError reports a rollback attempted with no grace slot to revert to.
func NewNoRollbackTargetError(project, environment string) *AppError {
	return &AppError{
		Type:       ErrTypeNoRollbackTarget,
		Message:    fmt.Sprintf("no rollback target for project %q environment %q", project, environment),
		StatusCode: http.StatusConflict,
	}
}

// NewGraceNotExpiredError reports a cleanup attempted before the grace period elapsed.
func NewGraceNotExpiredError(project, environment string, remaining string) *AppError {
	return &AppError{
		Type:       ErrTypeGraceNotExpired,
		Message:    fmt.Sprintf("grace period for project %q environment %q has %s remaining", project, environment, remaining),
		StatusCode: http.StatusConflict,
	}
}

// NewHealthcheckFailedError wraps a failed post-deploy or reconciliation health probe.
func NewHealthcheckFailedError(target string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeHealthcheckFailed,
		Message:    fmt.Sprintf("healthcheck failed for %q", target),
		Cause:      cause,
		StatusCode: http.StatusBadGateway,
	}
}

// NewBackupNotFoundError reports a requested env snapshot that doesn't exist on the backup host.
func NewBackupNotFoundError(project, environment, snapshot string) *AppError {
	return &AppError{
		Type:       ErrTypeBackupNotFound,
		Message:    fmt.Sprintf("env snapshot %q not found for project %q environment %q", snapshot, project, environment),
		StatusCode: http.StatusNotFound,
	}
}

// NewEnvAlreadyExistsError reports an env bundle create where one is already present.
func NewEnvAlreadyExistsError(project, environment string) *AppError {
	return &AppError{
		Type:       ErrTypeEnvAlreadyExists,
		Message:    fmt.Sprintf("env bundle already exists for project %q environment %q", project, environment),
		StatusCode: http.StatusConflict,
	}
}

// NewInvalidInputError wraps a request that failed validation.
func NewInvalidInputError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrTypeInvalidInput,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// NewInternalError wraps an unexpected failure with no dedicated taxonomy entry.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeInternal,
		Message:    message,
		Cause:      cause,
		StatusCode: http.StatusInternalServerError,
	}
}

// IsNotFound reports whether err is a registry-not-found or backup-not-found AppError.
func IsNotFound(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == ErrTypeRegistryNotFound || appErr.Type == ErrTypeBackupNotFound
}

// IsInvalidInput reports whether err is an AppError produced by input validation.
func IsInvalidInput(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrTypeInvalidInput
	}
	return false
}

// Type reports the ErrorType of err, or ErrTypeInternal if err is not an AppError.
func Type(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrTypeInternal
}

// New creates a new AppError with the given type and message, deriving its status code.
func New(errType ErrorType, message string) *AppError {
	statusCode := http.StatusInternalServerError
	switch errType {
	case ErrTypeInvalidInput:
		statusCode = http.StatusBadRequest
	case ErrTypeRegistryNotFound, ErrTypeBackupNotFound:
		statusCode = http.StatusNotFound
	case ErrTypeRegistryConflict, ErrTypeSlotBusy, ErrTypeNoDeployedCandid,
		ErrTypeNoRollbackTarget, ErrTypeGraceNotExpired, ErrTypeEnvAlreadyExists:
		statusCode = http.StatusConflict
	case ErrTypeSSHUnavailable, ErrTypeHealthcheckFailed:
		statusCode = http.StatusBadGateway
	case ErrTypeCommandTimeout:
		statusCode = http.StatusGatewayTimeout
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
	}
}
