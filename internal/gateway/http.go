package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartgw/smartgw/internal/fhir"
	"github.com/smartgw/smartgw/internal/smart"
)

// SessionHandleHeader carries the numeric launch-session handle the
// embedding shell assigns to each window. Every facade and auth request
// must be tagged with it.
const SessionHandleHeader = "X-Launch-Session"

// maxBodyBytes caps facade request bodies.
const maxBodyBytes = 8 << 20

// Server is the HTTP binding of the gateway. It owns the auth endpoints,
// the discovery document, the metadata rewrite and the shell-facing launch
// registry; everything else funnels through the Dispatcher.
type Server[Ctx any] struct {
	dispatcher *Dispatcher[Ctx]
	flow       *smart.AuthorizationFlow
	registry   smart.ApplicationRegistry
	issuer     string
	newCtx     func(echo.Context) Ctx
	corsOrigin string
	logger     zerolog.Logger
}

// NewServer creates the HTTP binding. issuer is the externally visible base
// URL of this gateway (no trailing slash); newCtx produces the per-request
// value handed to the resource service; corsOrigin is the allow-listed
// origin ("*" when unrestricted).
func NewServer[Ctx any](dispatcher *Dispatcher[Ctx], flow *smart.AuthorizationFlow,
	registry smart.ApplicationRegistry, issuer string, newCtx func(echo.Context) Ctx,
	corsOrigin string, logger zerolog.Logger) *Server[Ctx] {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server[Ctx]{
		dispatcher: dispatcher,
		flow:       flow,
		registry:   registry,
		issuer:     issuer,
		newCtx:     newCtx,
		corsOrigin: corsOrigin,
		logger:     logger,
	}
}

// Register mounts all routes on e.
func (s *Server[Ctx]) Register(e *echo.Echo) {
	e.OPTIONS("/*", s.handlePreflight)
	e.GET("/.well-known/smart-configuration", s.handleSmartConfiguration)
	e.GET("/metadata", s.handleMetadata)
	e.GET("/authorize", s.handleAuthorize)
	e.POST("/authorize", s.handleAuthorize)
	e.POST("/token", s.handleToken)

	// Shell-facing launch lifecycle.
	e.POST("/launches", s.handleLaunchRegister)
	e.DELETE("/launches/:handle", s.handleLaunchRemove)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodDelete, http.MethodPatch} {
		e.Add(method, "/*", s.handleFacade)
	}
}

func (s *Server[Ctx]) authorizeURL() string { return s.issuer + "/authorize" }
func (s *Server[Ctx]) tokenURL() string     { return s.issuer + "/token" }

// writeResponse copies a response value onto the wire, adding the CORS
// origin header every browser-facing response needs.
func (s *Server[Ctx]) writeResponse(c echo.Context, resp fhir.Response) error {
	h := c.Response().Header()
	for key, values := range resp.Header {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	h.Set("Access-Control-Allow-Origin", s.corsOrigin)
	if len(resp.Body) == 0 {
		return c.NoContent(resp.Status)
	}
	return c.Blob(resp.Status, resp.MIMEType, resp.Body)
}

// handlePreflight answers CORS preflight for every route.
func (s *Server[Ctx]) handlePreflight(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Access-Control-Allow-Origin", s.corsOrigin)
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, authorization")
	return c.NoContent(http.StatusNoContent)
}

// sessionHandle extracts and parses the session handle header.
func sessionHandle(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get(SessionHandleHeader)
	if raw == "" {
		return 0, fmt.Errorf("missing %s header", SessionHandleHeader)
	}
	handle, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q", SessionHandleHeader, raw)
	}
	return handle, nil
}

// session resolves the request's launch session. The returned response is
// already written when ok is false.
func (s *Server[Ctx]) session(c echo.Context) (*smart.Session, int64, bool, error) {
	handle, err := sessionHandle(c)
	if err != nil {
		return nil, 0, false, s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeRequired, err.Error()))
	}
	session, err := s.dispatcher.Sessions().Get(handle)
	if err != nil {
		s.logger.Error().Err(err).Int64("handle", handle).Msg("request on dead session handle")
		return nil, 0, false, s.writeResponse(c, fhir.NewErrorResponse(http.StatusInternalServerError,
			fhir.IssueSeverityFatal, fhir.IssueTypeException, err.Error()))
	}
	return session, handle, true, nil
}

func (s *Server[Ctx]) handleSmartConfiguration(c echo.Context) error {
	session, _, ok, err := s.session(c)
	if !ok {
		return err
	}
	cfg := smart.NewConfiguration(s.issuer, s.authorizeURL(), s.tokenURL(), session.App)
	return s.writeResponse(c, fhir.NewJSONResponse(http.StatusOK, cfg))
}

// handleMetadata forwards the CapabilityStatement with its security node
// rewritten to advertise this gateway's OAuth endpoints. It is served
// unauthenticated: apps fetch it before they hold a token.
func (s *Server[Ctx]) handleMetadata(c echo.Context) error {
	capability, err := s.dispatcher.service.Conformance(c.Request().Context(), s.newCtx(c))
	if err != nil {
		return s.writeResponse(c, errorResponse(err))
	}
	rewritten, err := fhir.RewriteSecurity(capability, s.authorizeURL(), s.tokenURL())
	if err != nil {
		s.logger.Error().Err(err).Msg("capability security rewrite failed")
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusInternalServerError,
			fhir.IssueSeverityError, fhir.IssueTypeException, "capability statement rewrite failed"))
	}
	return s.writeResponse(c, fhir.NewResourceResponse(http.StatusOK, rewritten))
}

func (s *Server[Ctx]) handleAuthorize(c echo.Context) error {
	session, _, ok, err := s.session(c)
	if !ok {
		return err
	}
	params, err := requestParams(c)
	if err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	return s.writeResponse(c, s.flow.Authorize(session, params))
}

func (s *Server[Ctx]) handleToken(c echo.Context) error {
	session, _, ok, err := s.session(c)
	if !ok {
		return err
	}
	if err := c.Request().ParseForm(); err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, "the token request body must be form encoded"))
	}
	return s.writeResponse(c, s.flow.Token(session, c.Request().PostForm))
}

// requestParams returns the authorize parameters: the form body for POST,
// the query string for GET.
func requestParams(c echo.Context) (url.Values, error) {
	if c.Request().Method == http.MethodPost {
		if err := c.Request().ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		return c.Request().PostForm, nil
	}
	return c.QueryParams(), nil
}

// handleFacade classifies and dispatches everything that is not an auth or
// discovery route.
func (s *Server[Ctx]) handleFacade(c echo.Context) error {
	handle, err := sessionHandle(c)
	if err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeRequired, err.Error()))
	}

	req := c.Request()
	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
				fhir.IssueSeverityError, fhir.IssueTypeInvalid, "request body could not be read"))
		}
	}

	contentType := req.Header.Get(echo.HeaderContentType)
	pr := fhir.ParseRequest(req.Method, req.URL.RequestURI(), contentType)
	resp := s.dispatcher.Dispatch(req.Context(), s.newCtx(c), handle,
		req.Header.Get(echo.HeaderAuthorization), pr, body, contentType)
	return s.writeResponse(c, resp)
}

// ---------------------------------------------------------------------------
// Shell-facing launch lifecycle
// ---------------------------------------------------------------------------

// LaunchRequest registers a new launch session for a window the shell just
// opened.
type LaunchRequest struct {
	Handle  int64                   `json:"handle"`
	App     string                  `json:"app"`
	Context []smart.ContextProperty `json:"context"`
}

// LaunchResponse confirms a registration and returns the launch identifier
// the shell passes to the app in its launch URL.
type LaunchResponse struct {
	Handle   int64  `json:"handle"`
	LaunchID string `json:"launch_id"`
}

func (s *Server[Ctx]) handleLaunchRegister(c echo.Context) error {
	var req LaunchRequest
	if err := c.Bind(&req); err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, "invalid launch registration body"))
	}
	app, err := s.registry.Lookup(c.Request().Context(), req.App)
	if err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusNotFound,
			fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}

	lc := smart.NewLaunchContext(uuid.NewString(), req.Context, nil)
	if _, err := s.dispatcher.Sessions().Register(req.Handle, app, lc); err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusConflict,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}

	s.logger.Info().Int64("handle", req.Handle).Str("app", app.Key).
		Str("launch", lc.LaunchID).Msg("launch session registered")
	return s.writeResponse(c, fhir.NewJSONResponse(http.StatusCreated,
		LaunchResponse{Handle: req.Handle, LaunchID: lc.LaunchID}))
}

func (s *Server[Ctx]) handleLaunchRemove(c echo.Context) error {
	handle, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil {
		return s.writeResponse(c, fhir.NewErrorResponse(http.StatusBadRequest,
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, "invalid launch handle"))
	}
	s.dispatcher.Sessions().Remove(handle)
	s.logger.Info().Int64("handle", handle).Msg("launch session removed")
	return c.NoContent(http.StatusNoContent)
}
