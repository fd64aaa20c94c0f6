package session

import "errors"

var (
	// ErrIllegalTransition is returned for an event the current state does not accept.
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrNoArtifact is returned when submitting without a file or captured frame.
	ErrNoArtifact = errors.New("no image selected")
	// ErrBusy is returned by the state machine for a submit while one is in flight.
	ErrBusy = errors.New("analysis already in progress")
	// ErrStaleResponse marks an analysis response that belongs to an abandoned request.
	ErrStaleResponse = errors.New("stale analysis response")
	// ErrNoResult is returned by result-only operations before a result exists.
	ErrNoResult = errors.New("no analysis result")
	// ErrUnknownCell is returned for an overlay index that does not exist.
	ErrUnknownCell = errors.New("unknown cell")
)
