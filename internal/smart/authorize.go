package smart

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartgw/smartgw/internal/fhir"
)

// Lifetimes of the artifacts the flow hands out. The code only needs to
// survive the redirect back through the app, so it is kept short.
const (
	DefaultCodeTTL  = 2 * time.Minute
	DefaultTokenTTL = time.Hour
)

// TokenResponse models the JSON body of the /token endpoint, including the
// SMART launch-context extensions.
type TokenResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
	Scope       string `json:"scope,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`

	// Clinical context.
	Patient       string `json:"patient,omitempty"`
	Encounter     string `json:"encounter,omitempty"`
	EpisodeOfCare string `json:"episodeofcare,omitempty"`

	// Practitioner context.
	Practitioner     string `json:"practitioner,omitempty"`
	PractitionerRole string `json:"practitionerrole,omitempty"`
	Organization     string `json:"organization,omitempty"`

	// Vendor extension: the embedding system's public certificate, when
	// the launch context carries one.
	NashPublicCert string `json:"x_nash_public_cert,omitempty"`
}

// AuthorizationFlow implements the /authorize and /token endpoints as a
// two-step state machine over one launch session: pending → code-issued →
// token-issued. Both steps validate against the session's application
// registration and mutate only its launch context.
type AuthorizationFlow struct {
	idTokens IDTokenIssuer // nil when no identity tokens can be minted
	codeTTL  time.Duration
	tokenTTL time.Duration
	nowTime  func() time.Time
	logger   zerolog.Logger
}

// FlowOption adjusts an AuthorizationFlow.
type FlowOption func(*AuthorizationFlow)

// WithNowTime overrides the clock, primarily for tests.
func WithNowTime(now func() time.Time) FlowOption {
	return func(f *AuthorizationFlow) { f.nowTime = now }
}

// WithCodeTTL overrides the authorization code lifetime.
func WithCodeTTL(ttl time.Duration) FlowOption {
	return func(f *AuthorizationFlow) { f.codeTTL = ttl }
}

// WithTokenTTL overrides the bearer token lifetime.
func WithTokenTTL(ttl time.Duration) FlowOption {
	return func(f *AuthorizationFlow) { f.tokenTTL = ttl }
}

// NewAuthorizationFlow creates a flow. idTokens may be nil when the
// deployment has no signing capability; openid requests then simply get no
// id_token.
func NewAuthorizationFlow(idTokens IDTokenIssuer, logger zerolog.Logger, opts ...FlowOption) *AuthorizationFlow {
	f := &AuthorizationFlow{
		idTokens: idTokens,
		codeTTL:  DefaultCodeTTL,
		tokenTTL: DefaultTokenTTL,
		nowTime:  time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Authorize handles the /authorize request for a session. params carries
// the request parameters (query string for GET, form body for POST). On
// success the session's launch context moves to code-issued and the
// response redirects to redirect_uri with code and the caller's state
// echoed. Any validation failure returns a client error and leaves the
// session untouched.
func (f *AuthorizationFlow) Authorize(session *Session, params url.Values) fhir.Response {
	app := session.App

	clientID := params.Get("client_id")
	clientSecret := params.Get("client_secret")
	redirectURI := params.Get("redirect_uri")
	state := params.Get("state")
	requestedScope := params.Get("scope")

	if clientID != app.ClientID {
		return f.authorizeError(app, "invalid client_id for application "+app.Name)
	}
	if !app.IsPublicClient() && clientSecret != app.ClientSecret {
		return f.authorizeError(app, "invalid client credentials for application "+app.Name)
	}
	if redirectURI == "" || !app.ValidRedirectURI(redirectURI) {
		return f.authorizeError(app, "redirect_uri is not registered for this application")
	}

	// All validation, including the URL parse, happens before the session
	// is touched: a rejected request must leave no code behind.
	location, err := url.Parse(redirectURI)
	if err != nil {
		return f.authorizeError(app, "redirect_uri is not a valid URL")
	}

	granted := app.FilterScopes(requestedScope)

	code := newOpaqueToken()
	lc := session.Context
	lc.SetGrantedScopes(granted)
	lc.SetCode(code, f.nowTime().Add(f.codeTTL))

	f.logger.Info().
		Str("app", app.Key).
		Str("launch", lc.LaunchID).
		Str("scope", granted).
		Msg("authorization code issued")

	q := location.Query()
	q.Set("code", code)
	q.Set("state", state)
	location.RawQuery = q.Encode()
	return fhir.NewRedirectResponse(location.String())
}

// authorizeError reports an /authorize validation failure. No code is
// issued and no state is consumed.
func (f *AuthorizationFlow) authorizeError(app *Application, message string) fhir.Response {
	f.logger.Warn().Str("app", app.Key).Str("reason", message).Msg("authorization rejected")
	return fhir.NewErrorResponse(http.StatusBadRequest,
		fhir.IssueSeverityError, fhir.IssueTypeSecurity, message)
}

// Token handles the /token request for a session: it exchanges the
// authorization code for a bearer token, moving the launch context to its
// terminal token-issued state. Failures return a token-response body with
// error_description set; the description is kept generic so a failing
// client cannot probe which check rejected it.
func (f *AuthorizationFlow) Token(session *Session, form url.Values) fhir.Response {
	app := session.App
	lc := session.Context

	if form.Get("grant_type") != "authorization_code" {
		return f.tokenError(app, "unsupported grant_type")
	}

	code, codeExpiry := lc.Code()
	if code == "" || form.Get("code") != code {
		return f.tokenError(app, "the authorization code is not valid")
	}
	if f.nowTime().After(codeExpiry) {
		return f.tokenError(app, "the authorization code is not valid")
	}
	if redirectURI := form.Get("redirect_uri"); !app.ValidRedirectURI(redirectURI) {
		return f.tokenError(app, "the authorization request is not valid")
	}
	if clientID := form.Get("client_id"); clientID != "" && clientID != app.ClientID {
		return f.tokenError(app, "the authorization request is not valid")
	}

	bearer := newOpaqueToken()

	resp := &TokenResponse{
		AccessToken:      bearer,
		TokenType:        "Bearer",
		ExpiresIn:        int(f.tokenTTL.Seconds()),
		Scope:            lc.GrantedScopes(),
		Patient:          lc.Property("patient"),
		Encounter:        lc.Property("encounter"),
		EpisodeOfCare:    lc.Property("episodeofcare"),
		Practitioner:     lc.Property("practitioner"),
		PractitionerRole: lc.Property("practitionerrole"),
		Organization:     lc.Property("organization"),
		NashPublicCert:   lc.Property("x_nash_public_cert"),
	}

	if f.idTokens != nil && wantsIDToken(lc.GrantedScopes()) {
		idToken, err := f.idTokens.IssueIDToken(app, lc)
		if err != nil {
			f.logger.Error().Err(err).Str("app", app.Key).Msg("id_token issuance failed")
			return f.tokenError(app, "identity token could not be issued")
		}
		resp.IDToken = idToken
	}

	// The bearer goes live only once the whole exchange has succeeded; a
	// failed id_token step must not leave a usable token on the session.
	lc.SetBearer(bearer, f.nowTime().Add(f.tokenTTL))

	f.logger.Info().
		Str("app", app.Key).
		Str("launch", lc.LaunchID).
		Int("expires_in", resp.ExpiresIn).
		Msg("access token issued")

	return fhir.NewJSONResponse(http.StatusOK, resp)
}

func (f *AuthorizationFlow) tokenError(app *Application, description string) fhir.Response {
	f.logger.Warn().Str("app", app.Key).Str("reason", description).Msg("token exchange rejected")
	return fhir.NewJSONResponse(http.StatusBadRequest, &TokenResponse{ErrorDesc: description})
}

// wantsIDToken reports whether the granted scopes request an OpenID
// identity token: openid together with profile or fhirUser.
func wantsIDToken(scopes string) bool {
	var openid, profile bool
	for _, s := range strings.Fields(scopes) {
		switch s {
		case "openid":
			openid = true
		case "profile", "fhirUser":
			profile = true
		}
	}
	return openid && profile
}

// newOpaqueToken generates an unguessable opaque identifier for codes and
// bearer tokens. Neither is a signed artifact; only the id_token carries a
// signature.
func newOpaqueToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
