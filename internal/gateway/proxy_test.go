package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/smartgw/smartgw/internal/fhir"
)

type upstreamCall struct {
	method      string
	path        string
	query       string
	body        string
	accept      string
	contentType string
}

// newTestUpstream records every request and replies with the configured
// status and body.
func newTestUpstream(t *testing.T, status int, body string) (*httptest.Server, *upstreamCall) {
	t.Helper()
	var last upstreamCall
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		last = upstreamCall{
			method:      r.Method,
			path:        r.URL.Path,
			query:       r.URL.RawQuery,
			body:        string(payload),
			accept:      r.Header.Get("Accept"),
			contentType: r.Header.Get("Content-Type"),
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &last
}

func newTestProxy(t *testing.T, upstreamURL string) *ProxyService {
	t.Helper()
	p, err := NewProxyService(upstreamURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewProxyServiceRejectsRelativeURL(t *testing.T) {
	if _, err := NewProxyService("fhir.example.com/r4", nil); err == nil {
		t.Error("a URL without a scheme must be rejected")
	}
	if _, err := NewProxyService("", nil); err == nil {
		t.Error("an empty URL must be rejected")
	}
}

func TestProxyPaths(t *testing.T) {
	ts, last := newTestUpstream(t, http.StatusOK, `{"resourceType":"Bundle"}`)
	p := newTestProxy(t, ts.URL)
	ctx := context.Background()
	rc := ProxyContext{}

	cases := []struct {
		name       string
		call       func() error
		wantMethod string
		wantPath   string
	}{
		{"conformance", func() error { _, err := p.Conformance(ctx, rc); return err },
			http.MethodGet, "/metadata"},
		{"system search", func() error { _, err := p.SystemSearch(ctx, rc, nil); return err },
			http.MethodGet, "/"},
		{"system history", func() error { _, err := p.SystemHistory(ctx, rc, nil); return err },
			http.MethodGet, "/_history"},
		{"batch", func() error { _, err := p.ProcessBatch(ctx, rc, []byte(`{}`)); return err },
			http.MethodPost, "/"},
		{"system operation", func() error { _, err := p.SystemOperation(ctx, rc, "export", nil, nil); return err },
			http.MethodGet, "/$export"},
		{"system operation with body", func() error {
			_, err := p.SystemOperation(ctx, rc, "export", nil, []byte(`{}`))
			return err
		}, http.MethodPost, "/$export"},
	}
	for _, tc := range cases {
		if err := tc.call(); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if last.method != tc.wantMethod || last.path != tc.wantPath {
			t.Errorf("%s: upstream saw %s %s, want %s %s",
				tc.name, last.method, last.path, tc.wantMethod, tc.wantPath)
		}
	}
}

func TestProxyAccessorPaths(t *testing.T) {
	ts, last := newTestUpstream(t, http.StatusOK, `{"resourceType":"Patient"}`)
	p := newTestProxy(t, ts.URL)
	ctx := context.Background()
	rc := ProxyContext{}
	a, _ := p.Accessor("Patient")

	cases := []struct {
		name       string
		call       func() error
		wantMethod string
		wantPath   string
	}{
		{"get", func() error { _, err := a.Get(ctx, rc, "example"); return err },
			http.MethodGet, "/Patient/example"},
		{"vread", func() error { _, err := a.GetVersion(ctx, rc, "example", "2"); return err },
			http.MethodGet, "/Patient/example/_history/2"},
		{"create", func() error { _, err := a.Create(ctx, rc, []byte(`{}`)); return err },
			http.MethodPost, "/Patient"},
		{"update", func() error { _, err := a.Update(ctx, rc, "example", []byte(`{}`)); return err },
			http.MethodPut, "/Patient/example"},
		{"patch", func() error {
			_, err := a.Patch(ctx, rc, "example", []byte(`[]`), "application/json-patch+json")
			return err
		}, http.MethodPatch, "/Patient/example"},
		{"delete", func() error { return a.Delete(ctx, rc, "example") },
			http.MethodDelete, "/Patient/example"},
		{"search", func() error { _, err := a.Search(ctx, rc, nil); return err },
			http.MethodGet, "/Patient"},
		{"type history", func() error { _, err := a.TypeHistory(ctx, rc, nil); return err },
			http.MethodGet, "/Patient/_history"},
		{"instance history", func() error { _, err := a.InstanceHistory(ctx, rc, "example", nil); return err },
			http.MethodGet, "/Patient/example/_history"},
		{"type operation", func() error { _, err := a.Operation(ctx, rc, "validate", "", nil, nil); return err },
			http.MethodGet, "/Patient/$validate"},
		{"instance operation", func() error {
			_, err := a.Operation(ctx, rc, "everything", "example", nil, nil)
			return err
		}, http.MethodGet, "/Patient/example/$everything"},
	}
	for _, tc := range cases {
		if err := tc.call(); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if last.method != tc.wantMethod || last.path != tc.wantPath {
			t.Errorf("%s: upstream saw %s %s, want %s %s",
				tc.name, last.method, last.path, tc.wantMethod, tc.wantPath)
		}
	}

	if last.contentType != "" {
		// last call was a GET with no body
		t.Errorf("content type = %q on a bodyless request", last.contentType)
	}
}

func TestProxyForwardsQueryAndAccept(t *testing.T) {
	ts, last := newTestUpstream(t, http.StatusOK, `{"resourceType":"Bundle"}`)
	p := newTestProxy(t, ts.URL)
	a, _ := p.Accessor("Observation")

	query := url.Values{"code": {"1234-5"}, "patient": {"example"}}
	if _, err := a.Search(context.Background(), ProxyContext{Accept: "application/fhir+xml"}, query); err != nil {
		t.Fatal(err)
	}
	parsed, err := url.ParseQuery(last.query)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Get("code") != "1234-5" || parsed.Get("patient") != "example" {
		t.Errorf("upstream query = %q", last.query)
	}
	if last.accept != "application/fhir+xml" {
		t.Errorf("Accept = %q, want the caller's preference forwarded", last.accept)
	}

	// An empty preference falls back to FHIR JSON.
	if _, err := a.Search(context.Background(), ProxyContext{}, nil); err != nil {
		t.Fatal(err)
	}
	if last.accept != fhir.MIMEFHIRJSON {
		t.Errorf("default Accept = %q", last.accept)
	}
}

func TestProxyResolvesFormatParam(t *testing.T) {
	ts, last := newTestUpstream(t, http.StatusOK, `{"resourceType":"Bundle"}`)
	p := newTestProxy(t, ts.URL)
	a, _ := p.Accessor("Observation")

	query := url.Values{"_format": {"xml"}, "code": {"1234-5"}}
	if _, err := a.Search(context.Background(), ProxyContext{Accept: "application/fhir+json"}, query); err != nil {
		t.Fatal(err)
	}
	if last.accept != "application/fhir+xml" {
		t.Errorf("Accept = %q, want _format to win over the Accept header", last.accept)
	}
	parsed, err := url.ParseQuery(last.query)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Get("_format") != "" {
		t.Errorf("_format was forwarded upstream: %q", last.query)
	}
	if parsed.Get("code") != "1234-5" {
		t.Errorf("other params must survive, query = %q", last.query)
	}
	// The caller's Values must not be mutated.
	if query.Get("_format") != "xml" {
		t.Error("caller-owned query was mutated")
	}
}

func TestProxyRelaysUpstreamOutcome(t *testing.T) {
	ts, _ := newTestUpstream(t, http.StatusNotFound,
		`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found","details":{"text":"Patient/example is not known"}}]}`)
	p := newTestProxy(t, ts.URL)
	a, _ := p.Accessor("Patient")

	_, err := a.Get(context.Background(), ProxyContext{}, "example")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if ue.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", ue.Status)
	}
	if ue.Outcome == nil || ue.Outcome.Issue[0].Details.Text != "Patient/example is not known" {
		t.Errorf("outcome = %+v, want the upstream outcome carried verbatim", ue.Outcome)
	}
}

func TestProxySynthesizesOutcomeForBareErrors(t *testing.T) {
	ts, _ := newTestUpstream(t, http.StatusBadGateway, "upstream exploded")
	p := newTestProxy(t, ts.URL)

	_, err := p.Conformance(context.Background(), ProxyContext{})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if ue.Status != http.StatusBadGateway {
		t.Errorf("status = %d", ue.Status)
	}
	if ue.Outcome == nil || len(ue.Outcome.Issue) == 0 {
		t.Fatal("a bare upstream failure must still produce an outcome")
	}
}

func TestProxyPreservesBasePath(t *testing.T) {
	ts, last := newTestUpstream(t, http.StatusOK, `{"resourceType":"Patient"}`)
	p := newTestProxy(t, ts.URL+"/r4/")
	a, _ := p.Accessor("Patient")

	if _, err := a.Get(context.Background(), ProxyContext{}, "example"); err != nil {
		t.Fatal(err)
	}
	if last.path != "/r4/Patient/example" {
		t.Errorf("path = %q, want the upstream base path kept", last.path)
	}
}
