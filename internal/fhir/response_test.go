package fhir

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestNewResourceResponseHeaders(t *testing.T) {
	resp := NewResourceResponse(http.StatusOK, []byte(`{"resourceType":"Patient"}`))

	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d", resp.Status)
	}
	if resp.MIMEType != MIMEFHIRJSON {
		t.Errorf("MIMEType = %q", resp.MIMEType)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := resp.Header.Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want no-cache", got)
	}
}

func TestNewErrorResponseBody(t *testing.T) {
	resp := NewErrorResponse(http.StatusNotFound, IssueSeverityError, IssueTypeNotFound,
		"resource type \"glarb\" is not known to this server")

	if resp.Status != http.StatusNotFound {
		t.Errorf("Status = %d", resp.Status)
	}
	var outcome OperationOutcome
	if err := json.Unmarshal(resp.Body, &outcome); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" {
		t.Errorf("resourceType = %q", outcome.ResourceType)
	}
	if len(outcome.Issue) != 1 {
		t.Fatalf("issue count = %d", len(outcome.Issue))
	}
	issue := outcome.Issue[0]
	if issue.Severity != IssueSeverityError || issue.Code != IssueTypeNotFound {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Details == nil || issue.Details.Text == "" {
		t.Error("message must be carried in details.text")
	}
}

func TestNewRedirectResponse(t *testing.T) {
	resp := NewRedirectResponse("https://app.example.com/cb?code=abc&state=xyz")

	if resp.Status != http.StatusFound {
		t.Errorf("Status = %d, want 302", resp.Status)
	}
	if got := resp.Header.Get("Location"); got != "https://app.example.com/cb?code=abc&state=xyz" {
		t.Errorf("Location = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if len(resp.Body) != 0 {
		t.Error("redirect must have no body")
	}
}

func TestAddIssueAccumulates(t *testing.T) {
	outcome := NewOperationOutcome(IssueSeverityError, IssueTypeException, "outer failure")
	outcome.AddIssue(IssueSeverityError, IssueTypeException, "inner cause")

	if len(outcome.Issue) != 2 {
		t.Fatalf("issue count = %d, want 2", len(outcome.Issue))
	}
	if outcome.Issue[1].Details.Text != "inner cause" {
		t.Errorf("second issue = %+v", outcome.Issue[1])
	}
}
