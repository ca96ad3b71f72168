// Package gateway routes classified FHIR REST calls to an external resource
// service, enforcing launch-session authorization and SMART scope policy in
// front of every dispatch.
package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/smartgw/smartgw/internal/fhir"
)

// UpstreamError is an operational failure reported by the resource service.
// When the service annotated the failure with an HTTP status and an
// OperationOutcome, both are relayed verbatim to the caller.
type UpstreamError struct {
	Status  int
	Outcome *fhir.OperationOutcome
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream failure (status %d)", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError annotates an error with the status and outcome the
// resource service wants relayed.
func NewUpstreamError(status int, outcome *fhir.OperationOutcome, err error) *UpstreamError {
	return &UpstreamError{Status: status, Outcome: outcome, Err: err}
}

// errorResponse converts a dispatch failure into the structured error
// response. An annotated upstream error is relayed with its own status and
// outcome; anything else becomes a 500 whose outcome accumulates one issue
// per error in the cause chain, so nested failures are not lost.
func errorResponse(err error) fhir.Response {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Outcome != nil {
		status := ue.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return fhir.NewOutcomeResponse(status, ue.Outcome)
	}

	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeException, err.Error())
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		outcome.AddIssue(fhir.IssueSeverityError, fhir.IssueTypeException, cause.Error())
	}
	status := http.StatusInternalServerError
	if ue != nil && ue.Status != 0 {
		status = ue.Status
	}
	return fhir.NewOutcomeResponse(status, outcome)
}
