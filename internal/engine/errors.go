package engine

import "fmt"

// AppError is the application-level error shape surfaced to clients.
// Classified errors pass through provider wrapping untouched; anything else
// is normalized into an operation-specific "unable to <verb>" error.
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

func InvalidPathError(path string) *AppError {
	return &AppError{
		Code:    "INVALID_PATH",
		Status:  400,
		Message: fmt.Sprintf("Invalid field path: %s", path),
	}
}

func InvalidOperatorError(op string) *AppError {
	return &AppError{
		Code:    "INVALID_OPERATOR",
		Status:  400,
		Message: fmt.Sprintf("Invalid filter operator: %s", op),
	}
}

func InvalidIsOperatorError(value string) *AppError {
	return &AppError{
		Code:    "INVALID_IS_VALUE",
		Status:  400,
		Message: fmt.Sprintf("Operator 'is' accepts only 'null' or 'empty', got: %s", value),
	}
}

func InvalidDateError(value string) *AppError {
	return &AppError{
		Code:    "INVALID_DATE",
		Status:  400,
		Message: fmt.Sprintf("Value must be an ISO-8601 date-time: %s", value),
	}
}

func InvalidUpdatedSinceFieldError(entity string) *AppError {
	return &AppError{
		Code:    "INVALID_UPDATED_SINCE_FIELD",
		Status:  400,
		Message: fmt.Sprintf("Entity %s has no timestamped entities in scope", entity),
	}
}

func PageSizeExceededError(requested, max int) *AppError {
	return &AppError{
		Code:    "PAGE_SIZE_EXCEEDED",
		Status:  400,
		Message: fmt.Sprintf("page_size %d exceeds the maximum of %d", requested, max),
	}
}

func ItemNotFoundError(entity string, id any) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %v not found", entity, id),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

// ForbiddenError carries no field detail; update/delete permission failures
// use it so nothing about the existing row leaks.
func ForbiddenError() *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: "Operation not permitted",
	}
}

// ForbiddenValueError names the offending key/value; only create-path
// permission checks use it, where the value came from the caller's input.
func ForbiddenValueError(key string, value any) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: fmt.Sprintf("Not permitted for %s = %v", key, value),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func ImmutableFieldError(field string) *AppError {
	return &AppError{
		Code:    "VALIDATION_IMMUTABLE_FIELD",
		Status:  422,
		Message: fmt.Sprintf("Field %s is immutable", field),
		Details: []ErrorDetail{{Field: field, Rule: "immutable", Message: "Field cannot be changed once set"}},
	}
}

func RelationNotFoundError(field string, id any) *AppError {
	return &AppError{
		Code:    "VALIDATION_RELATION_NOT_FOUND",
		Status:  422,
		Message: fmt.Sprintf("Related record %v for %s does not exist", id, field),
		Details: []ErrorDetail{{Field: field, Rule: "exists", Message: "Referenced record not found"}},
	}
}

// InternalError marks configuration bugs (mis-declared hierarchy or
// permission paths, rows vanishing mid-transaction). Surfaced to the caller
// but logged distinctly by the HTTP error handler.
func InternalError(msg string) *AppError {
	return &AppError{Code: "INTERNAL", Status: 500, Message: msg}
}

func InvalidHierarchyError(parent, child string) *AppError {
	return &AppError{
		Code:    "INTERNAL",
		Status:  500,
		Message: fmt.Sprintf("Timestamp hierarchy declares %s -> %s but no association connects them", parent, child),
	}
}

// UnableError is the catch-all wrapper for unclassified failures inside a
// provider operation.
func UnableError(verb, entity string, err error) *AppError {
	return &AppError{
		Code:    "UNABLE_TO_" + verb,
		Status:  500,
		Message: fmt.Sprintf("unable to %s %s: %v", verbText(verb), entity, err),
	}
}

func verbText(verb string) string {
	switch verb {
	case "LIST":
		return "list"
	case "GET":
		return "get"
	case "CREATE":
		return "create"
	case "UPDATE":
		return "update"
	case "DELETE":
		return "delete"
	}
	return verb
}
