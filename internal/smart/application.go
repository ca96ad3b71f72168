package smart

import "strings"

// Application describes one registered SMART app launch target. Instances
// are created from external configuration and never mutated by the gateway.
type Application struct {
	// Key uniquely identifies this app-launch configuration.
	Key  string `json:"key" mapstructure:"key"`
	Name string `json:"name" mapstructure:"name"`

	// LaunchURL is where the embedding shell navigates to start the app.
	LaunchURL string `json:"launch_url" mapstructure:"launch_url"`

	// RedirectURIs lists the redirect_uri values accepted at /authorize and
	// /token. Empty means no redirect validation is performed.
	RedirectURIs []string `json:"redirect_uris" mapstructure:"redirect_uris"`

	ClientID string `json:"client_id" mapstructure:"client_id"`

	// ClientSecret empty means a public client: the app cannot keep a
	// secret, so only the client_id is checked.
	ClientSecret string `json:"client_secret,omitempty" mapstructure:"client_secret"`

	// AllowedScopes are the scope templates the data server permits this
	// application. Empty means every requested scope is granted.
	AllowedScopes []string `json:"allowed_scopes" mapstructure:"allowed_scopes"`

	// AllowedHosts scopes the CORS allow-origin for the facade. Empty
	// leaves the origin unrestricted.
	AllowedHosts string `json:"allowed_hosts,omitempty" mapstructure:"allowed_hosts"`

	// Audience and Issuer are used when an id_token is minted.
	Audience string `json:"audience,omitempty" mapstructure:"audience"`
	Issuer   string `json:"issuer,omitempty" mapstructure:"issuer"`
}

// IsPublicClient reports whether the app was registered without a secret.
func (a *Application) IsPublicClient() bool {
	return a.ClientSecret == ""
}

// ValidRedirectURI reports whether uri may be used with this application.
// An empty registered list accepts anything.
func (a *Application) ValidRedirectURI(uri string) bool {
	if len(a.RedirectURIs) == 0 {
		return true
	}
	for _, r := range a.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// FilterScopes reduces a space-separated requested scope string to the
// subset this application is allowed, preserving request order. Template
// matching is deliberately permissive for the broad wildcards: a
// "user/*.*" template covers any user/ or patient/ request scope, and
// "patient/*.*" covers any patient/ scope; every other template matches by
// exact string comparison. An app with no configured templates grants
// whatever was asked for.
func (a *Application) FilterScopes(requested string) string {
	scopes := strings.Fields(requested)
	if len(a.AllowedScopes) == 0 {
		return strings.Join(scopes, " ")
	}

	var granted []string
	for _, s := range scopes {
		if a.scopeAllowed(s) {
			granted = append(granted, s)
		}
	}
	return strings.Join(granted, " ")
}

func (a *Application) scopeAllowed(scope string) bool {
	for _, tmpl := range a.AllowedScopes {
		switch tmpl {
		case scope:
			return true
		case "user/*.*":
			if strings.HasPrefix(scope, "user/") || strings.HasPrefix(scope, "patient/") {
				return true
			}
		case "patient/*.*":
			if strings.HasPrefix(scope, "patient/") {
				return true
			}
		}
	}
	return false
}
