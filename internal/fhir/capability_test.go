package fhir

import (
	"encoding/json"
	"testing"
)

func rewriteAndDecode(t *testing.T, capability string) map[string]any {
	t.Helper()
	out, err := RewriteSecurity([]byte(capability),
		"https://gw.example.com/authorize", "https://gw.example.com/token")
	if err != nil {
		t.Fatalf("RewriteSecurity: %v", err)
	}
	var cs map[string]any
	if err := json.Unmarshal(out, &cs); err != nil {
		t.Fatalf("decode rewritten capability: %v", err)
	}
	return cs
}

func securityNode(t *testing.T, cs map[string]any) map[string]any {
	t.Helper()
	rest, _ := cs["rest"].([]any)
	if len(rest) == 0 {
		t.Fatal("rest missing")
	}
	rest0 := rest[0].(map[string]any)
	security, _ := rest0["security"].(map[string]any)
	if security == nil {
		t.Fatal("security missing")
	}
	return security
}

func oauthURIs(t *testing.T, security map[string]any) (authorize, token string) {
	t.Helper()
	extensions, _ := security["extension"].([]any)
	for _, e := range extensions {
		em := e.(map[string]any)
		if em["url"] != "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris" {
			continue
		}
		subs, _ := em["extension"].([]any)
		for _, s := range subs {
			sm := s.(map[string]any)
			switch sm["url"] {
			case "authorize":
				authorize, _ = sm["valueUri"].(string)
			case "token":
				token, _ = sm["valueUri"].(string)
			}
		}
	}
	return authorize, token
}

func TestRewriteSecurityAddsEverything(t *testing.T) {
	cs := rewriteAndDecode(t, `{
  "resourceType": "CapabilityStatement",
  "status": "active",
  "rest": [{"mode": "server"}]
}`)
	security := securityNode(t, cs)

	authorize, token := oauthURIs(t, security)
	if authorize != "https://gw.example.com/authorize" {
		t.Errorf("authorize uri = %q", authorize)
	}
	if token != "https://gw.example.com/token" {
		t.Errorf("token uri = %q", token)
	}

	services, _ := security["service"].([]any)
	if len(services) != 1 {
		t.Fatalf("service count = %d", len(services))
	}

	if cs["status"] != "active" {
		t.Error("unrelated fields must pass through untouched")
	}
}

func TestRewriteSecurityReplacesStaleEndpoints(t *testing.T) {
	cs := rewriteAndDecode(t, `{
  "resourceType": "CapabilityStatement",
  "rest": [{
    "mode": "server",
    "security": {
      "service": [{"coding": [{"system": "http://hl7.org/fhir/restful-security-service", "code": "SMART-on-FHIR"}]}],
      "extension": [
        {"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
         "extension": [{"url": "token", "valueUri": "https://old.example.com/token"}]},
        {"url": "http://example.com/unrelated", "valueString": "keep me"}
      ]
    }
  }]
}`)
	security := securityNode(t, cs)

	authorize, token := oauthURIs(t, security)
	if token != "https://gw.example.com/token" {
		t.Errorf("token uri = %q, old endpoint must be replaced", token)
	}
	if authorize != "https://gw.example.com/authorize" {
		t.Errorf("authorize uri = %q", authorize)
	}

	// The pre-existing SMART coding must not be duplicated.
	services, _ := security["service"].([]any)
	if len(services) != 1 {
		t.Errorf("service count = %d, want 1", len(services))
	}

	// Unrelated extensions survive.
	extensions, _ := security["extension"].([]any)
	var unrelated bool
	for _, e := range extensions {
		if e.(map[string]any)["url"] == "http://example.com/unrelated" {
			unrelated = true
		}
	}
	if !unrelated {
		t.Error("unrelated extension was dropped")
	}
}

func TestRewriteSecurityCreatesRestWhenAbsent(t *testing.T) {
	cs := rewriteAndDecode(t, `{"resourceType": "CapabilityStatement"}`)
	security := securityNode(t, cs)
	if _, token := oauthURIs(t, security); token == "" {
		t.Error("token uri missing on synthesized rest node")
	}
}

func TestRewriteSecurityRejectsGarbage(t *testing.T) {
	if _, err := RewriteSecurity([]byte("not json"), "a", "t"); err == nil {
		t.Error("expected an error for a non-JSON payload")
	}
}
