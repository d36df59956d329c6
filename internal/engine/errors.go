package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Workflow sentinels. They are converted to AppErrors at the HTTP boundary.
var (
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrAlreadyInState       = errors.New("row is already in this state")
	ErrUnknownState         = errors.New("unknown workflow state")
)

// ErrValueKindMismatch is returned by the value store when a value does not
// match the storage kind of its property. It is a programming error.
var ErrValueKindMismatch = errors.New("value kind does not match property type")

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

// ValidationError lists every failing field in the message so callers that
// only read the message still learn which properties were rejected.
func ValidationError(details []ErrorDetail) *AppError {
	msg := "Validation failed"
	var fields []string
	for _, d := range details {
		if d.Field != "" {
			fields = append(fields, d.Field)
		}
	}
	if len(fields) > 0 {
		msg += ": " + strings.Join(fields, ", ")
	}
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  400,
		Message: msg,
		Details: details,
	}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// workflowAppError maps the workflow sentinels, or returns nil.
func workflowAppError(err error) *AppError {
	switch {
	case errors.Is(err, ErrTransitionNotAllowed):
		return &AppError{Code: "TRANSITION_NOT_ALLOWED", Status: 400, Message: err.Error()}
	case errors.Is(err, ErrAlreadyInState):
		return &AppError{Code: "ALREADY_IN_STATE", Status: 400, Message: err.Error()}
	case errors.Is(err, ErrUnknownState):
		return &AppError{Code: "UNKNOWN_STATE", Status: 400, Message: err.Error()}
	}
	return nil
}

// StateLockedError rejects an update or delete the row's workflow state forbids.
func StateLockedError(state, op string) *AppError {
	return &AppError{
		Code:    "STATE_LOCKED",
		Status:  400,
		Message: fmt.Sprintf("Rows in state %s cannot be %s", state, op),
	}
}
