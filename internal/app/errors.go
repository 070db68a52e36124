package app

import "fmt"

// Error codes surfaced to clients. The validation codes are stable
// contract: clients branch on BLOCKED_SENDER and the EVERYONE_* pair to
// pick the composer hint to show.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidBody            = "INVALID_BODY"
	CodeBlockedSender          = "BLOCKED_SENDER"
	CodeEveryoneNotAllowed     = "EVERYONE_NOT_ALLOWED"
	CodeEveryoneAdminOnly      = "EVERYONE_ADMIN_ONLY"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeMethodNotAllowed       = "METHOD_NOT_ALLOWED"
	CodeAttachmentsUnavailable = "ATTACHMENTS_UNAVAILABLE"
	CodeServerError            = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
