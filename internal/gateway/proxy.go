package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smartgw/smartgw/internal/fhir"
)

// ProxyContext carries the per-request values the proxy forwards upstream.
type ProxyContext struct {
	Accept string
}

// ProxyService is the ResourceService used by the standalone binary: it
// forwards every interaction to an upstream FHIR server over HTTP. The
// gateway's authorization has already run by the time a call reaches it.
type ProxyService struct {
	base   *url.URL
	client *http.Client
}

// NewProxyService creates a proxy against baseURL (no trailing slash
// required). client may be nil; a default with a 30s timeout is used.
func NewProxyService(baseURL string, client *http.Client) (*ProxyService, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProxyService{base: base, client: client}, nil
}

// do performs one upstream call. Non-2xx responses are converted to
// *UpstreamError so the dispatcher relays the upstream status and outcome
// verbatim.
func (p *ProxyService) do(ctx context.Context, rc ProxyContext, method, path string,
	query url.Values, body []byte, contentType string) ([]byte, error) {

	// _format is resolved here rather than forwarded: the caller's wire
	// preference becomes the Accept header on the upstream call.
	var formatOverride string
	if query != nil {
		if f := query.Get("_format"); f != "" {
			formatOverride = normalizeFormat(f)
			query = cloneValues(query)
			query.Del("_format")
		}
	}

	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	accept := formatOverride
	if accept == "" {
		accept = rc.Accept
	}
	if accept == "" {
		accept = fhir.MIMEFHIRJSON
	}
	req.Header.Set("Accept", accept)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome := decodeOutcome(payload)
		if outcome == nil {
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeProcessing,
				fmt.Sprintf("upstream server returned status %d", resp.StatusCode))
		}
		return nil, NewUpstreamError(resp.StatusCode, outcome,
			fmt.Errorf("upstream %s %s returned %d", method, path, resp.StatusCode))
	}
	return payload, nil
}

// normalizeFormat maps the FHIR _format shorthand values onto MIME types.
func normalizeFormat(format string) string {
	switch format {
	case "json", "application/json":
		return fhir.MIMEFHIRJSON
	case "xml", "application/xml", "text/xml":
		return "application/fhir+xml"
	}
	return format
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}

// decodeOutcome parses payload as an OperationOutcome, or returns nil when
// it is not one.
func decodeOutcome(payload []byte) *fhir.OperationOutcome {
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return nil
	}
	if outcome.ResourceType != "OperationOutcome" {
		return nil
	}
	return &outcome
}

func (p *ProxyService) Conformance(ctx context.Context, rc ProxyContext) ([]byte, error) {
	return p.do(ctx, rc, http.MethodGet, "/metadata", nil, nil, "")
}

func (p *ProxyService) SystemSearch(ctx context.Context, rc ProxyContext, query url.Values) ([]byte, error) {
	return p.do(ctx, rc, http.MethodGet, "/", query, nil, "")
}

func (p *ProxyService) SystemHistory(ctx context.Context, rc ProxyContext, query url.Values) ([]byte, error) {
	return p.do(ctx, rc, http.MethodGet, "/_history", query, nil, "")
}

func (p *ProxyService) ProcessBatch(ctx context.Context, rc ProxyContext, bundle []byte) ([]byte, error) {
	return p.do(ctx, rc, http.MethodPost, "/", nil, bundle, fhir.MIMEFHIRJSON)
}

func (p *ProxyService) SystemOperation(ctx context.Context, rc ProxyContext, name string, query url.Values, body []byte) ([]byte, error) {
	method := http.MethodGet
	var contentType string
	if body != nil {
		method = http.MethodPost
		contentType = fhir.MIMEFHIRJSON
	}
	return p.do(ctx, rc, method, "/$"+name, query, body, contentType)
}

// Accessor returns a per-type view onto the same upstream. The classifier
// has already rejected unknown resource types, so every known type is
// served.
func (p *ProxyService) Accessor(resourceType string) (ResourceAccessor[ProxyContext], bool) {
	return &proxyAccessor{svc: p, resourceType: resourceType}, true
}

type proxyAccessor struct {
	svc          *ProxyService
	resourceType string
}

func (a *proxyAccessor) path(parts ...string) string {
	return "/" + a.resourceType + strings.Join(parts, "")
}

func (a *proxyAccessor) Get(ctx context.Context, rc ProxyContext, id string) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodGet, a.path("/", id), nil, nil, "")
}

func (a *proxyAccessor) GetVersion(ctx context.Context, rc ProxyContext, id, version string) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodGet, a.path("/", id, "/_history/", version), nil, nil, "")
}

func (a *proxyAccessor) Create(ctx context.Context, rc ProxyContext, resource []byte) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodPost, a.path(), nil, resource, fhir.MIMEFHIRJSON)
}

func (a *proxyAccessor) Update(ctx context.Context, rc ProxyContext, id string, resource []byte) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodPut, a.path("/", id), nil, resource, fhir.MIMEFHIRJSON)
}

func (a *proxyAccessor) Patch(ctx context.Context, rc ProxyContext, id string, patch []byte, contentType string) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodPatch, a.path("/", id), nil, patch, contentType)
}

func (a *proxyAccessor) Delete(ctx context.Context, rc ProxyContext, id string) error {
	_, err := a.svc.do(ctx, rc, http.MethodDelete, a.path("/", id), nil, nil, "")
	return err
}

func (a *proxyAccessor) Search(ctx context.Context, rc ProxyContext, query url.Values) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodGet, a.path(), query, nil, "")
}

func (a *proxyAccessor) TypeHistory(ctx context.Context, rc ProxyContext, query url.Values) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodGet, a.path("/_history"), query, nil, "")
}

func (a *proxyAccessor) InstanceHistory(ctx context.Context, rc ProxyContext, id string, query url.Values) ([]byte, error) {
	return a.svc.do(ctx, rc, http.MethodGet, a.path("/", id, "/_history"), query, nil, "")
}

func (a *proxyAccessor) Operation(ctx context.Context, rc ProxyContext, name, id string, query url.Values, body []byte) ([]byte, error) {
	method := http.MethodGet
	var contentType string
	if body != nil {
		method = http.MethodPost
		contentType = fhir.MIMEFHIRJSON
	}
	path := a.path("/$", name)
	if id != "" {
		path = a.path("/", id, "/$", name)
	}
	return a.svc.do(ctx, rc, method, path, query, body, contentType)
}
