package smart

import (
	"strings"
	"sync"
	"time"
)

// ContextProperty is one (key, value) pair of launch context, e.g.
// ("patient", "example"). Order is preserved: properties are returned in
// the order the embedding shell registered them.
type ContextProperty struct {
	Key   string `json:"key" mapstructure:"key"`
	Value string `json:"value" mapstructure:"value"`
}

// LaunchContext is the runtime state of one app launch. The authorization
// code is set once by /authorize and consumed by /token; the bearer token is
// set once by /token and immutable thereafter. A single browser window
// drives its own authorize→token sequence, but the fields are guarded
// anyway against concurrent writers.
type LaunchContext struct {
	mu sync.RWMutex

	// LaunchID identifies this launch to the embedding shell.
	LaunchID string

	code        string
	codeExpiry  time.Time
	bearer      string
	tokenExpiry time.Time
	scopes      string

	properties []ContextProperty

	// Principal is the opaque identity/claims handle supplied by the
	// embedding shell when the launch was created.
	Principal any
}

// NewLaunchContext creates a launch context carrying the given ordered
// context properties.
func NewLaunchContext(launchID string, properties []ContextProperty, principal any) *LaunchContext {
	return &LaunchContext{
		LaunchID:   launchID,
		properties: append([]ContextProperty(nil), properties...),
		Principal:  principal,
	}
}

// SetCode records a freshly issued authorization code and its expiry.
func (lc *LaunchContext) SetCode(code string, expiry time.Time) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.code = code
	lc.codeExpiry = expiry
}

// Code returns the current authorization code and its expiry.
func (lc *LaunchContext) Code() (string, time.Time) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.code, lc.codeExpiry
}

// SetBearer records the issued bearer token and its expiry.
func (lc *LaunchContext) SetBearer(token string, expiry time.Time) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.bearer = token
	lc.tokenExpiry = expiry
}

// Bearer returns the issued bearer token and its expiry. An empty token
// means /token has not completed for this launch.
func (lc *LaunchContext) Bearer() (string, time.Time) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.bearer, lc.tokenExpiry
}

// SetGrantedScopes records the scope set granted at /authorize.
func (lc *LaunchContext) SetGrantedScopes(scopes string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.scopes = scopes
}

// GrantedScopes returns the space-separated granted scope string.
func (lc *LaunchContext) GrantedScopes() string {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.scopes
}

// ScopeClaims returns the granted scopes split into individual tokens.
func (lc *LaunchContext) ScopeClaims() []string {
	return strings.Fields(lc.GrantedScopes())
}

// ContextProperties returns the launch context properties in registration
// order.
func (lc *LaunchContext) ContextProperties() []ContextProperty {
	return lc.properties
}

// Property returns the value for key, or "" when absent.
func (lc *LaunchContext) Property(key string) string {
	for _, p := range lc.properties {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// PatientID is the patient-in-context identifier, when one was registered.
func (lc *LaunchContext) PatientID() string {
	return lc.Property("patient")
}
