package fhir

import (
	"encoding/json"
	"net/http"
)

// MIME types served by the gateway.
const (
	MIMEFHIRJSON = "application/fhir+json"
	MIMEJSON     = "application/json;charset=UTF-8"
)

// Response is an immutable response value. Handlers construct it once and
// return it; nothing mutates a response after it is built.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	MIMEType string
}

// noCacheHeader returns the headers required on every auth-related and
// facade response.
func noCacheHeader() http.Header {
	h := http.Header{}
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	return h
}

// NewResourceResponse wraps an opaque FHIR JSON payload.
func NewResourceResponse(status int, body []byte) Response {
	return Response{
		Status:   status,
		Header:   noCacheHeader(),
		Body:     body,
		MIMEType: MIMEFHIRJSON,
	}
}

// NewJSONResponse marshals v as plain JSON (token responses, the SMART
// configuration document).
func NewJSONResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return NewOutcomeResponse(http.StatusInternalServerError,
			NewOperationOutcome(IssueSeverityFatal, IssueTypeException, "response serialization failed: "+err.Error()))
	}
	return Response{
		Status:   status,
		Header:   noCacheHeader(),
		Body:     body,
		MIMEType: MIMEJSON,
	}
}

// NewOutcomeResponse serializes an OperationOutcome as the response body.
func NewOutcomeResponse(status int, outcome *OperationOutcome) Response {
	body, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		body = []byte(`{"resourceType":"OperationOutcome"}`)
	}
	return Response{
		Status:   status,
		Header:   noCacheHeader(),
		Body:     body,
		MIMEType: MIMEFHIRJSON,
	}
}

// NewErrorResponse builds the structured error response used on every
// failure path: an OperationOutcome with the given severity, issue code and
// human-readable message.
func NewErrorResponse(status int, severity, code, message string) Response {
	return NewOutcomeResponse(status, NewOperationOutcome(severity, code, message))
}

// NewRedirectResponse builds a 302 redirect.
func NewRedirectResponse(location string) Response {
	h := noCacheHeader()
	h.Set("Location", location)
	return Response{
		Status: http.StatusFound,
		Header: h,
	}
}
