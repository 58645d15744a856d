package collab

import "errors"

var (
	ErrSessionNotFound    = errors.New("code session not found")
	ErrSessionEnded       = errors.New("code session has ended")
	ErrNotParticipant     = errors.New("user is not a participant of this session")
	ErrCreatorCannotLeave = errors.New("session creator cannot leave; end the session instead")
	ErrNotCreator         = errors.New("only the session creator can end the session")
	// ErrSessionActive is returned by Directory.Remove for sessions that have not ended.
	ErrSessionActive = errors.New("code session is still active")
)
