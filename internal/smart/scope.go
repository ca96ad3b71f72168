// Package smart implements the SMART on FHIR app-launch protocol layer:
// scope grammar and policy evaluation, the per-launch session registry, and
// the authorize/token state machine.
package smart

import "strings"

// PrincipalClass is the category of actor a scope was granted to. The
// ordering matters: when grants merge, the highest class wins, and
// patient-class principals carry extra in-context restrictions.
type PrincipalClass int

const (
	PrincipalUndefined PrincipalClass = iota
	PrincipalPatient
	PrincipalUser
	PrincipalSystem
)

func (p PrincipalClass) String() string {
	switch p {
	case PrincipalPatient:
		return "patient"
	case PrincipalUser:
		return "user"
	case PrincipalSystem:
		return "system"
	}
	return "undefined"
}

// Operation is one of the five access kinds a SMART scope can grant.
type Operation int

const (
	OpCreate Operation = iota
	OpRead
	OpUpdate
	OpDelete
	OpSearch
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpRead:
		return "read"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSearch:
		return "search"
	}
	return "unknown"
}

// ScopeGrant is the parsed form of a single SMART scope token such as
// "patient/Observation.rs" or "user/*.read". An invalid token parses to a
// grant with every permission false: a corrupt scope denies, it is not
// ignored.
type ScopeGrant struct {
	Class        PrincipalClass
	ResourceName string
	Create       bool
	Read         bool
	Update       bool
	Delete       bool
	Search       bool
}

// ParseScope parses one scope token. Deterministic and side-effect free.
//
// The access specifier accepts both grammars, legacy first:
//
//	v1: read -> read+search, write -> create+update, * -> everything
//	v2: any combination of the characters c r u d s
//
// A v2 specifier containing any other character invalidates the whole
// specifier: all five bits reset to false.
func ParseScope(scope string) ScopeGrant {
	var g ScopeGrant

	class, rest, found := strings.Cut(scope, "/")
	if !found {
		return g
	}
	switch class {
	case "patient":
		g.Class = PrincipalPatient
	case "user":
		g.Class = PrincipalUser
	case "system":
		g.Class = PrincipalSystem
	default:
		return g
	}

	resource, access, found := strings.Cut(rest, ".")
	if !found {
		return g
	}
	g.ResourceName = resource

	// SMART v1 access tokens.
	switch access {
	case "read":
		g.Read = true
		g.Search = true
		return g
	case "write":
		g.Create = true
		g.Update = true
		return g
	case "*":
		g.Create = true
		g.Read = true
		g.Update = true
		g.Delete = true
		g.Search = true
		return g
	}

	// SMART v2 access tokens.
	for _, a := range access {
		switch a {
		case 'c':
			g.Create = true
		case 'r':
			g.Read = true
		case 'u':
			g.Update = true
		case 'd':
			g.Delete = true
		case 's':
			g.Search = true
		default:
			// Corrupt specifier: this rule grants nothing at all.
			g.Create = false
			g.Read = false
			g.Update = false
			g.Delete = false
			g.Search = false
			return g
		}
	}
	return g
}

// Permits reports whether this grant allows op.
func (g ScopeGrant) Permits(op Operation) bool {
	switch op {
	case OpCreate:
		return g.Create
	case OpRead:
		return g.Read
	case OpUpdate:
		return g.Update
	case OpDelete:
		return g.Delete
	case OpSearch:
		return g.Search
	}
	return false
}

// IsResourceScope reports whether the raw scope token addresses clinical
// data (as opposed to openid/profile/launch and friends).
func IsResourceScope(scope string) bool {
	return strings.HasPrefix(scope, "patient/") ||
		strings.HasPrefix(scope, "user/") ||
		strings.HasPrefix(scope, "system/")
}
