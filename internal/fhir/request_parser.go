package fhir

import (
	"net/url"
	"strings"
)

// InteractionKind classifies a FHIR REST call by level and verb semantics.
type InteractionKind int

const (
	KindUnknown InteractionKind = iota
	KindUnknownResourceType

	KindSmartConfiguration

	KindCapabilityStatement
	KindSystemHistory
	KindSystemSearch
	KindSystemBatchOperation
	KindSystemOperation

	KindResourceTypeHistory
	KindResourceTypeSearch
	KindResourceTypeOperation
	KindResourceTypeCreate

	KindResourceInstanceGet
	KindResourceInstanceGetVersion
	KindResourceInstanceUpdate
	KindResourceInstanceDelete
	KindResourceInstancePatch
	KindResourceInstanceHistory
	KindResourceInstanceOperation
)

var kindNames = map[InteractionKind]string{
	KindUnknown:                    "Unknown",
	KindUnknownResourceType:        "UnknownResourceType",
	KindSmartConfiguration:         "SmartConfiguration",
	KindCapabilityStatement:        "CapabilityStatement",
	KindSystemHistory:              "SystemHistory",
	KindSystemSearch:               "SystemSearch",
	KindSystemBatchOperation:       "SystemBatchOperation",
	KindSystemOperation:            "SystemOperation",
	KindResourceTypeHistory:        "ResourceTypeHistory",
	KindResourceTypeSearch:         "ResourceTypeSearch",
	KindResourceTypeOperation:      "ResourceTypeOperation",
	KindResourceTypeCreate:         "ResourceTypeCreate",
	KindResourceInstanceGet:        "ResourceInstanceGet",
	KindResourceInstanceGetVersion: "ResourceInstanceGetVersion",
	KindResourceInstanceUpdate:     "ResourceInstanceUpdate",
	KindResourceInstanceDelete:     "ResourceInstanceDelete",
	KindResourceInstancePatch:      "ResourceInstancePatch",
	KindResourceInstanceHistory:    "ResourceInstanceHistory",
	KindResourceInstanceOperation:  "ResourceInstanceOperation",
}

func (k InteractionKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// ParsedRequest is the result of classifying one inbound REST call. The
// captured fields drive authorization and dispatch, so they are populated
// even on some failure paths (ResourceType is recorded before the type is
// validated, for use in error messages).
type ParsedRequest struct {
	Kind          InteractionKind
	ResourceType  string
	ResourceID    string
	Version       string
	OperationName string
	Query         url.Values
}

// ParseRequest classifies method + URL + content type into a FHIR
// interaction. It is a pure function of its inputs; precedence is
// top-down, first match wins.
// IsFormEncoded reports whether contentType denotes a form-urlencoded
// body, ignoring any media type parameters.
func IsFormEncoded(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType) == "application/x-www-form-urlencoded"
}

func ParseRequest(method, rawURL, contentType string) ParsedRequest {
	pr := ParsedRequest{Kind: KindUnknown}

	if rawURL == "" {
		return pr
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return pr
	}
	path := u.Path
	if path == "" {
		return pr
	}
	pr.Query = u.Query()

	isForm := IsFormEncoded(contentType)

	if method == "OPTIONS" && path == "/" {
		pr.Kind = KindCapabilityStatement
		return pr
	}

	// System level routes.
	if method == "GET" {
		switch {
		case path == "/.well-known/smart-configuration":
			pr.Kind = KindSmartConfiguration
			return pr
		case path == "/metadata":
			pr.Kind = KindCapabilityStatement
			return pr
		case path == "/":
			pr.Kind = KindSystemSearch
			return pr
		case path == "/_history":
			pr.Kind = KindSystemHistory
			return pr
		case strings.HasPrefix(path, "/$"):
			pr.Kind = KindSystemOperation
			pr.OperationName = operationName(path)
			return pr
		}
	}
	if method == "POST" {
		if path == "/" {
			if isForm {
				pr.Kind = KindSystemSearch
			} else {
				pr.Kind = KindSystemBatchOperation
			}
			return pr
		}
		if strings.HasPrefix(path, "/$") {
			pr.Kind = KindSystemOperation
			pr.OperationName = operationName(path)
			return pr
		}
	}

	// Resource type level interactions.
	resourceType := strings.TrimPrefix(path, "/")
	var subPath string
	if i := strings.IndexByte(resourceType, '/'); i >= 0 {
		subPath = resourceType[i:]
		resourceType = resourceType[:i]
	}
	// Recorded before validation so error messages can name the type.
	pr.ResourceType = resourceType
	if !IsKnownResourceType(resourceType) {
		pr.Kind = KindUnknownResourceType
		return pr
	}

	if method == "GET" {
		switch {
		case subPath == "/" || subPath == "":
			pr.Kind = KindResourceTypeSearch
			return pr
		case subPath == "/_history":
			pr.Kind = KindResourceTypeHistory
			return pr
		case strings.HasPrefix(subPath, "/$"):
			pr.Kind = KindResourceTypeOperation
			pr.OperationName = operationName(subPath)
			return pr
		}
	}
	if method == "POST" {
		if subPath == "/" || subPath == "" {
			if isForm {
				pr.Kind = KindResourceTypeSearch
			} else {
				pr.Kind = KindResourceTypeCreate
			}
			return pr
		}
		if strings.HasPrefix(subPath, "/$") {
			pr.Kind = KindResourceTypeOperation
			pr.OperationName = operationName(subPath)
			return pr
		}
	}

	// Resource instance level interactions.
	resourceID := strings.TrimPrefix(subPath, "/")
	var idSubPath string
	if i := strings.IndexByte(resourceID, '/'); i >= 0 {
		idSubPath = resourceID[i:]
		resourceID = resourceID[:i]
	}
	pr.ResourceID = resourceID

	switch method {
	case "GET":
		switch {
		case idSubPath == "/" || idSubPath == "":
			pr.Kind = KindResourceInstanceGet
			return pr
		case idSubPath == "/_history":
			pr.Kind = KindResourceInstanceHistory
			return pr
		case strings.HasPrefix(idSubPath, "/$"):
			pr.Kind = KindResourceInstanceOperation
			pr.OperationName = operationName(idSubPath)
			return pr
		case strings.HasPrefix(idSubPath, "/_history/"):
			pr.Version = idSubPath[len("/_history/"):]
			pr.Kind = KindResourceInstanceGetVersion
			return pr
		}
	case "PUT":
		if (idSubPath == "/" || idSubPath == "") && !isForm {
			pr.Kind = KindResourceInstanceUpdate
		}
		return pr
	case "POST":
		if idSubPath == "/" || idSubPath == "" {
			if !isForm {
				// Update-via-POST compatibility for clients that
				// cannot issue PUT.
				pr.Kind = KindResourceInstanceUpdate
			}
			return pr
		}
		if strings.HasPrefix(idSubPath, "/$") {
			pr.Kind = KindResourceInstanceOperation
			pr.OperationName = operationName(idSubPath)
			return pr
		}
		return pr
	case "DELETE":
		if resourceID != "" {
			pr.Kind = KindResourceInstanceDelete
		}
		return pr
	case "PATCH":
		if resourceID != "" {
			pr.Kind = KindResourceInstancePatch
		}
		return pr
	}

	return pr
}

// operationName extracts the operation segment after "$" from a sub-path such
// as "/$everything" or "/$validate?...".
func operationName(subPath string) string {
	name := subPath[strings.Index(subPath, "$")+1:]
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return name
}
