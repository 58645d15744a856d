package app

import (
	"fmt"
	"net/http"
	"testing"

	"devconnect/api/internal/collab"
	"devconnect/api/internal/store"
	"devconnect/api/internal/textpatch"
)

func TestMapErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "session missing in directory", err: collab.ErrSessionNotFound, status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "session row deleted concurrently", err: fmt.Errorf("delete session: %w", store.ErrSessionNotFound), status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "project missing", err: store.ErrProjectNotFound, status: http.StatusNotFound, code: "PROJECT_NOT_FOUND"},
		{name: "ended", err: fmt.Errorf("apply: %w", collab.ErrSessionEnded), status: http.StatusConflict, code: "SESSION_ENDED"},
		{name: "validation", err: validationError("bad"), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "unknown", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Errorf("expected %d %s, got %d %s", tc.status, tc.code, status, code)
			}
		})
	}
}

func TestMapErrorKeepsPatchDetail(t *testing.T) {
	err := fmt.Errorf("patch 2: %w", textpatch.ErrInvalidPatch)

	status, code, message, _ := mapError(err)

	if status != http.StatusUnprocessableEntity || code != "INVALID_PATCH" {
		t.Fatalf("expected 422 INVALID_PATCH, got %d %s", status, code)
	}
	if message != err.Error() {
		t.Errorf("expected message %q, got %q", err.Error(), message)
	}
}
