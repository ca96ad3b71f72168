package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartgw/smartgw/internal/fhir"
	"github.com/smartgw/smartgw/internal/smart"
)

// Dispatcher routes classified requests to the resource service after
// enforcing session, bearer and scope checks. It holds no per-request
// state; one instance serves every session.
type Dispatcher[Ctx any] struct {
	sessions           *smart.SessionStore
	service            ResourceService[Ctx]
	applySmartScopes   bool
	enforceTokenExpiry bool
	nowTime            func() time.Time
	logger             zerolog.Logger
}

// DispatcherOption adjusts a Dispatcher.
type DispatcherOption[Ctx any] func(*Dispatcher[Ctx])

// WithDispatcherClock overrides the clock, primarily for tests.
func WithDispatcherClock[Ctx any](now func() time.Time) DispatcherOption[Ctx] {
	return func(d *Dispatcher[Ctx]) { d.nowTime = now }
}

// NewDispatcher creates a dispatcher. applySmartScopes gates scope policy
// enforcement; enforceTokenExpiry gates the lazy bearer expiry check.
func NewDispatcher[Ctx any](sessions *smart.SessionStore, service ResourceService[Ctx],
	applySmartScopes, enforceTokenExpiry bool, logger zerolog.Logger, opts ...DispatcherOption[Ctx]) *Dispatcher[Ctx] {
	d := &Dispatcher[Ctx]{
		sessions:           sessions,
		service:            service,
		applySmartScopes:   applySmartScopes,
		enforceTokenExpiry: enforceTokenExpiry,
		nowTime:            time.Now,
		logger:             logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sessions exposes the store so transport bindings can resolve sessions for
// the auth endpoints themselves.
func (d *Dispatcher[Ctx]) Sessions() *smart.SessionStore { return d.sessions }

// Dispatch executes one classified facade request for the session behind
// handle. authorization is the raw Authorization header; body and
// contentType carry the request payload for write interactions.
func (d *Dispatcher[Ctx]) Dispatch(ctx context.Context, rc Ctx, handle int64,
	authorization string, pr fhir.ParsedRequest, body []byte, contentType string) fhir.Response {

	session, err := d.sessions.Get(handle)
	if err != nil {
		// A dead handle is a lifecycle bug in the embedding shell, not a
		// client error.
		d.logger.Error().Err(err).Int64("handle", handle).Msg("dispatch on dead session handle")
		return fhir.NewErrorResponse(http.StatusInternalServerError,
			fhir.IssueSeverityFatal, fhir.IssueTypeException, err.Error())
	}

	if resp, ok := d.checkBearer(session, authorization); !ok {
		return resp
	}

	// A form-encoded POST search carries its parameters in the body. They
	// are folded into the query set here so everything downstream,
	// including the patient narrowing bridge, sees one parameter set.
	if err := mergeFormSearchBody(&pr, body, contentType); err != nil {
		return fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid,
			"the search request body is not valid form data")
	}

	lc := session.Context

	var decision *smart.ScopeDecision
	if d.applySmartScopes && pr.ResourceType != "" {
		if pr.Kind == fhir.KindUnknownResourceType {
			return fhir.NewErrorResponse(http.StatusNotFound,
				fhir.IssueSeverityError, fhir.IssueTypeNotFound,
				fmt.Sprintf("resource type %q is not known to this server", pr.ResourceType))
		}
		decision = smart.EvaluateScopes(lc.ScopeClaims(), pr.ResourceType)
		if op, checked := scopeOperation(pr.Kind); checked && decision != nil && !decision.Permits(op) {
			d.logger.Warn().
				Str("resource", pr.ResourceType).
				Str("operation", op.String()).
				Str("class", decision.Class.String()).
				Msg("scope policy denied request")
			return fhir.NewErrorResponse(http.StatusUnauthorized,
				fhir.IssueSeverityError, fhir.IssueTypeForbidden,
				fmt.Sprintf("%s access to %s is not permitted by the granted scopes (principal class %s)",
					op, pr.ResourceType, decision.Class))
		}

		// A patient principal may only touch their own Patient record.
		if pr.ResourceType == "Patient" && pr.ResourceID != "" &&
			decision != nil && decision.Class == smart.PrincipalPatient {
			if patientID := lc.PatientID(); patientID != "" && pr.ResourceID != patientID {
				return fhir.NewErrorResponse(http.StatusUnauthorized,
					fhir.IssueSeverityError, fhir.IssueTypeForbidden,
					"access to this Patient record is not permitted by the launch context")
			}
		}

		// Scope-to-query bridge: a patient principal's searches are
		// narrowed to the patient in context.
		if pr.Kind == fhir.KindResourceTypeSearch &&
			decision != nil && decision.Class == smart.PrincipalPatient {
			if patientID := lc.PatientID(); patientID != "" {
				if param, ok := fhir.PatientSearchParam(pr.ResourceType); ok {
					pr.Query.Set(param, patientID)
				}
			}
		}
	}

	return d.route(ctx, rc, pr, body, contentType)
}

// mergeFormSearchBody folds a form-urlencoded search body into pr.Query.
// URL parameters keep their position; body parameters append after them.
func mergeFormSearchBody(pr *fhir.ParsedRequest, body []byte, contentType string) error {
	if len(body) == 0 || !fhir.IsFormEncoded(contentType) {
		return nil
	}
	if pr.Kind != fhir.KindSystemSearch && pr.Kind != fhir.KindResourceTypeSearch {
		return nil
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return err
	}
	if pr.Query == nil {
		pr.Query = url.Values{}
	}
	for key, values := range form {
		for _, v := range values {
			pr.Query.Add(key, v)
		}
	}
	return nil
}

// checkBearer enforces the Authorization header once a bearer token has
// been issued for the session. Before /token completes the facade is open,
// matching the launch sequence (the app fetches metadata before it ever
// holds a token).
func (d *Dispatcher[Ctx]) checkBearer(session *smart.Session, authorization string) (fhir.Response, bool) {
	bearer, expiry := session.Context.Bearer()
	if bearer == "" {
		return fhir.Response{}, true
	}
	if authorization != "Bearer "+bearer {
		return fhir.NewErrorResponse(http.StatusUnauthorized,
			fhir.IssueSeverityError, fhir.IssueTypeLogin,
			"a valid bearer token is required"), false
	}
	if d.enforceTokenExpiry && d.nowTime().After(expiry) {
		return fhir.NewErrorResponse(http.StatusUnauthorized,
			fhir.IssueSeverityError, fhir.IssueTypeLogin,
			"the bearer token has expired"), false
	}
	return fhir.Response{}, true
}

// route performs the actual service call for an authorized request.
func (d *Dispatcher[Ctx]) route(ctx context.Context, rc Ctx, pr fhir.ParsedRequest,
	body []byte, contentType string) fhir.Response {

	switch pr.Kind {
	case fhir.KindCapabilityStatement:
		return d.relay(d.service.Conformance(ctx, rc))
	case fhir.KindSystemSearch:
		return d.relay(d.service.SystemSearch(ctx, rc, pr.Query))
	case fhir.KindSystemHistory:
		return d.relay(d.service.SystemHistory(ctx, rc, pr.Query))
	case fhir.KindSystemBatchOperation:
		return d.relay(d.service.ProcessBatch(ctx, rc, body))
	case fhir.KindSystemOperation:
		return d.relay(d.service.SystemOperation(ctx, rc, pr.OperationName, pr.Query, body))
	case fhir.KindUnknownResourceType:
		return fhir.NewErrorResponse(http.StatusNotFound,
			fhir.IssueSeverityError, fhir.IssueTypeNotFound,
			fmt.Sprintf("resource type %q is not known to this server", pr.ResourceType))
	case fhir.KindUnknown, fhir.KindSmartConfiguration:
		return fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeNotSupported,
			"the request is not a supported FHIR interaction")
	}

	accessor, ok := d.service.Accessor(pr.ResourceType)
	if !ok {
		return fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeNotSupported,
			fmt.Sprintf("this server does not serve the %s resource type", pr.ResourceType))
	}

	switch pr.Kind {
	case fhir.KindResourceTypeSearch:
		return d.relay(accessor.Search(ctx, rc, pr.Query))
	case fhir.KindResourceTypeHistory:
		return d.relay(accessor.TypeHistory(ctx, rc, pr.Query))
	case fhir.KindResourceTypeCreate:
		payload, err := accessor.Create(ctx, rc, body)
		if err != nil {
			return errorResponse(err)
		}
		return fhir.NewResourceResponse(http.StatusCreated, payload)
	case fhir.KindResourceTypeOperation:
		return d.relay(accessor.Operation(ctx, rc, pr.OperationName, "", pr.Query, body))
	case fhir.KindResourceInstanceGet:
		return d.relay(accessor.Get(ctx, rc, pr.ResourceID))
	case fhir.KindResourceInstanceGetVersion:
		return d.relay(accessor.GetVersion(ctx, rc, pr.ResourceID, pr.Version))
	case fhir.KindResourceInstanceUpdate:
		return d.relay(accessor.Update(ctx, rc, pr.ResourceID, body))
	case fhir.KindResourceInstancePatch:
		return d.relay(accessor.Patch(ctx, rc, pr.ResourceID, body, contentType))
	case fhir.KindResourceInstanceDelete:
		if err := accessor.Delete(ctx, rc, pr.ResourceID); err != nil {
			return errorResponse(err)
		}
		return fhir.Response{Status: http.StatusNoContent, Header: http.Header{}}
	case fhir.KindResourceInstanceHistory:
		return d.relay(accessor.InstanceHistory(ctx, rc, pr.ResourceID, pr.Query))
	case fhir.KindResourceInstanceOperation:
		return d.relay(accessor.Operation(ctx, rc, pr.OperationName, pr.ResourceID, pr.Query, body))
	}

	return fhir.NewErrorResponse(http.StatusBadRequest,
		fhir.IssueSeverityError, fhir.IssueTypeNotSupported,
		"the request is not a supported FHIR interaction")
}

func (d *Dispatcher[Ctx]) relay(payload []byte, err error) fhir.Response {
	if err != nil {
		return errorResponse(err)
	}
	return fhir.NewResourceResponse(http.StatusOK, payload)
}

// scopeOperation maps an interaction kind onto the scope operation it
// requires. checked is false for system-level interactions, which carry no
// single resource type to evaluate against.
func scopeOperation(kind fhir.InteractionKind) (smart.Operation, bool) {
	switch kind {
	case fhir.KindResourceTypeSearch:
		return smart.OpSearch, true
	case fhir.KindResourceTypeHistory, fhir.KindResourceInstanceHistory,
		fhir.KindResourceInstanceGet, fhir.KindResourceInstanceGetVersion,
		fhir.KindResourceTypeOperation, fhir.KindResourceInstanceOperation:
		return smart.OpRead, true
	case fhir.KindResourceTypeCreate:
		return smart.OpCreate, true
	case fhir.KindResourceInstanceUpdate, fhir.KindResourceInstancePatch:
		return smart.OpUpdate, true
	case fhir.KindResourceInstanceDelete:
		return smart.OpDelete, true
	}
	return smart.OpRead, false
}
