package gateway

import (
	"context"
	"net/url"
)

// ResourceService is the capability the host system plugs into the gateway.
// It owns storage, query evaluation and serialization; the gateway only
// routes and authorizes. Ctx is whatever per-request value the host threads
// through to its accessors (a tenant handle, a DB transaction, anything);
// the gateway never inspects it.
//
// All payloads are FHIR JSON as opaque bytes. Failures should be returned
// as *UpstreamError when the service wants a specific status and outcome
// relayed; any other error is reported as an internal failure.
type ResourceService[Ctx any] interface {
	// Conformance returns the CapabilityStatement for the endpoint.
	Conformance(ctx context.Context, rc Ctx) ([]byte, error)

	// SystemSearch handles a whole-system search (GET / or form POST /).
	SystemSearch(ctx context.Context, rc Ctx, query url.Values) ([]byte, error)

	// SystemHistory handles GET /_history.
	SystemHistory(ctx context.Context, rc Ctx, query url.Values) ([]byte, error)

	// ProcessBatch handles a batch/transaction Bundle posted to /.
	ProcessBatch(ctx context.Context, rc Ctx, bundle []byte) ([]byte, error)

	// SystemOperation handles GET|POST /$name.
	SystemOperation(ctx context.Context, rc Ctx, name string, query url.Values, body []byte) ([]byte, error)

	// Accessor resolves the per-resource-type capability. ok is false when
	// the service does not serve the type.
	Accessor(resourceType string) (ResourceAccessor[Ctx], bool)
}

// ResourceAccessor is the per-resource-type capability of a
// ResourceService.
type ResourceAccessor[Ctx any] interface {
	Get(ctx context.Context, rc Ctx, id string) ([]byte, error)
	GetVersion(ctx context.Context, rc Ctx, id, version string) ([]byte, error)
	Create(ctx context.Context, rc Ctx, resource []byte) ([]byte, error)
	Update(ctx context.Context, rc Ctx, id string, resource []byte) ([]byte, error)
	Patch(ctx context.Context, rc Ctx, id string, patch []byte, contentType string) ([]byte, error)
	Delete(ctx context.Context, rc Ctx, id string) error
	Search(ctx context.Context, rc Ctx, query url.Values) ([]byte, error)
	TypeHistory(ctx context.Context, rc Ctx, query url.Values) ([]byte, error)
	InstanceHistory(ctx context.Context, rc Ctx, id string, query url.Values) ([]byte, error)
	Operation(ctx context.Context, rc Ctx, name, id string, query url.Values, body []byte) ([]byte, error)
}
