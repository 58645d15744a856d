package app

import (
	"errors"
	"fmt"
	"net/http"

	"devconnect/api/internal/auth"
	"devconnect/api/internal/collab"
	"devconnect/api/internal/gitrepo"
	"devconnect/api/internal/store"
	"devconnect/api/internal/textpatch"
)

// ErrAccessDenied is returned when the caller has no access to a project or
// session.
var ErrAccessDenied = errors.New("access denied")

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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var sentinelErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{collab.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "Code session not found"},
	{collab.ErrSessionEnded, http.StatusConflict, "SESSION_ENDED", "Code session has ended"},
	{collab.ErrNotParticipant, http.StatusForbidden, "NOT_PARTICIPANT", "Not a participant of this code session"},
	{collab.ErrCreatorCannotLeave, http.StatusConflict, "CREATOR_CANNOT_LEAVE", "The creator cannot leave; end the session instead"},
	{collab.ErrNotCreator, http.StatusForbidden, "NOT_CREATOR", "Only the creator can end this code session"},
	{collab.ErrSessionActive, http.StatusConflict, "SESSION_ACTIVE", "Code session is still active"},
	{ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED", "Access denied"},
	{gitrepo.ErrNotArchived, http.StatusNotFound, "NOT_ARCHIVED", "Code session has not been archived"},
	{store.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "Code session not found"},
	{store.ErrProjectNotFound, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found"},
	{textpatch.ErrInvalidPatch, http.StatusUnprocessableEntity, "INVALID_PATCH", "Invalid patch"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, known := range sentinelErrors {
		if errors.Is(err, known.err) {
			if known.err == textpatch.ErrInvalidPatch {
				return known.status, known.code, err.Error(), nil
			}
			return known.status, known.code, known.message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
