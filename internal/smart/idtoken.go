package smart

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IDTokenIssuer mints the signed OpenID Connect identity token included in a
// token response when the granted scopes call for one. The gateway itself
// never signs anything else; implementations own the key material.
type IDTokenIssuer interface {
	IssueIDToken(app *Application, lc *LaunchContext) (string, error)
}

// IDTokenIssuerFunc adapts a plain function to the IDTokenIssuer interface.
type IDTokenIssuerFunc func(app *Application, lc *LaunchContext) (string, error)

func (f IDTokenIssuerFunc) IssueIDToken(app *Application, lc *LaunchContext) (string, error) {
	return f(app, lc)
}

// RSAIDTokenIssuer signs RS256 identity tokens describing the practitioner
// in the launch context.
type RSAIDTokenIssuer struct {
	key     *rsa.PrivateKey
	nowTime func() time.Time
}

// NewRSAIDTokenIssuer creates an issuer signing with key.
func NewRSAIDTokenIssuer(key *rsa.PrivateKey) *RSAIDTokenIssuer {
	return &RSAIDTokenIssuer{key: key, nowTime: time.Now}
}

// IssueIDToken implements IDTokenIssuer. The subject and profile claims
// carry the practitioner-in-context reference; issuer and audience come
// from the application registration.
func (i *RSAIDTokenIssuer) IssueIDToken(app *Application, lc *LaunchContext) (string, error) {
	now := i.nowTime()
	practitioner := lc.Property("practitioner")

	claims := jwt.MapClaims{
		"sub":     practitioner,
		"profile": practitioner,
		"iss":     app.Issuer,
		"aud":     app.Audience,
		"exp":     now.Add(time.Hour).Unix(),
		"iat":     now.Add(-time.Minute).Unix(),
		"nbf":     now.Add(-time.Minute).Unix(),
		"jti":     uuid.NewString(),
	}
	if name := lc.Property("practitioner_name"); name != "" {
		claims["name"] = name
	}
	if fhirUser := lc.Property("fhirUser"); fhirUser != "" {
		claims["fhirUser"] = fhirUser
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign id_token: %w", err)
	}
	return signed, nil
}
