package discovery

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/vindex/vindex/internal/extract"
)

// Failure taxonomy. Every *DiscoveryError matches exactly one of these
// with errors.Is.
var (
	ErrSearchUnavailable  = eris.New("search unavailable")
	ErrNoSearchResults    = eris.New("no search results")
	ErrExtractionFailed   = extract.ErrExtractionFailed
	ErrValidationRejected = eris.New("validation rejected")
)

// Stage names a step of the discovery pipeline.
type Stage string

const (
	StageCacheCheck Stage = "cache_check"
	StageSearching  Stage = "searching"
	StageExtracting Stage = "extracting"
	StageValidating Stage = "validating"
	StageEnriching  Stage = "enriching"
	StagePersisting Stage = "persisting"
)

// DiscoveryError is a recoverable discovery failure: the wine could not be
// discovered and nothing was persisted. Internal faults such as store
// errors are returned as plain errors instead.
type DiscoveryError struct {
	Stage  Stage
	Reason string
	Err    error // taxonomy sentinel
	Cause  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: %s: %s", e.Stage, e.Reason)
}

func (e *DiscoveryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsDiscoveryFailed reports whether err is a recoverable discovery failure
// rather than an internal fault.
func IsDiscoveryFailed(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

func newFailure(stage Stage, sentinel, cause error) *DiscoveryError {
	reason := sentinel.Error()
	if cause != nil {
		reason = cause.Error()
	}
	return &DiscoveryError{Stage: stage, Reason: reason, Err: sentinel, Cause: cause}
}
