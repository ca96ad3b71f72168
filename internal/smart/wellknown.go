package smart

// Configuration is the SMART discovery document served at
// /.well-known/smart-configuration.
type Configuration struct {
	Issuer                string   `json:"issuer,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	Capabilities          []string `json:"capabilities"`
	ResponseTypes         []string `json:"response_types_supported"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
}

// NewConfiguration builds the discovery document for a session's
// application. The capability list depends on whether the client is public
// or holds a symmetric secret.
func NewConfiguration(issuer, authorizeURL, tokenURL string, app *Application) Configuration {
	capabilities := []string{
		"launch-ehr",
		"permission-v2",
		"context-ehr-patient",
		"authorize-post",
	}
	if app.IsPublicClient() {
		capabilities = append(capabilities, "client-public")
	} else {
		capabilities = append(capabilities, "client-confidential-symmetric")
	}
	return Configuration{
		Issuer:                issuer,
		AuthorizationEndpoint: authorizeURL,
		TokenEndpoint:         tokenURL,
		Capabilities:          capabilities,
		ResponseTypes:         []string{"code", "code id_token"},
		ScopesSupported:       app.AllowedScopes,
		CodeChallengeMethods:  []string{"S256"},
	}
}
