package fhir

import (
	"encoding/json"
	"fmt"
)

const (
	securityServiceSystem = "http://hl7.org/fhir/restful-security-service"
	oauthURIsExtension    = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"
)

// RewriteSecurity rewrites the rest[0].security node of a CapabilityStatement
// payload so it advertises this gateway's SMART OAuth endpoints: the
// SMART-on-FHIR security service coding is added if missing and the oauth-uris
// extension is replaced wholesale with the supplied authorize/token URLs.
// The payload is treated as an opaque JSON tree; everything outside the
// security node passes through untouched.
func RewriteSecurity(capability []byte, authorizeURL, tokenURL string) ([]byte, error) {
	var cs map[string]any
	if err := json.Unmarshal(capability, &cs); err != nil {
		return nil, fmt.Errorf("parse capability statement: %w", err)
	}

	rest, _ := cs["rest"].([]any)
	if len(rest) == 0 {
		rest = []any{map[string]any{"mode": "server"}}
		cs["rest"] = rest
	}
	rest0, ok := rest[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("capability statement rest[0] is not an object")
	}

	security, _ := rest0["security"].(map[string]any)
	if security == nil {
		security = map[string]any{}
		rest0["security"] = security
	}

	if !hasSmartOnFhirService(security) {
		services, _ := security["service"].([]any)
		services = append(services, map[string]any{
			"coding": []any{map[string]any{
				"system": securityServiceSystem,
				"code":   "SMART-on-FHIR",
			}},
		})
		security["service"] = services
	}

	// Remove any previously advertised OAuth endpoints, then add ours.
	extensions, _ := security["extension"].([]any)
	kept := extensions[:0]
	for _, e := range extensions {
		em, ok := e.(map[string]any)
		if ok && em["url"] == oauthURIsExtension {
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, map[string]any{
		"url": oauthURIsExtension,
		"extension": []any{
			map[string]any{"url": "token", "valueUri": tokenURL},
			map[string]any{"url": "authorize", "valueUri": authorizeURL},
		},
	})
	security["extension"] = kept

	return json.Marshal(cs)
}

func hasSmartOnFhirService(security map[string]any) bool {
	services, _ := security["service"].([]any)
	for _, s := range services {
		sm, ok := s.(map[string]any)
		if !ok {
			continue
		}
		codings, _ := sm["coding"].([]any)
		for _, c := range codings {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if cm["system"] == securityServiceSystem && cm["code"] == "SMART-on-FHIR" {
				return true
			}
		}
	}
	return false
}
