package smart

// ScopeDecision is the merge of every grant in a principal's scope claims
// that matches a requested resource name. Each permission bit is true when
// any matching grant sets it; Class is the maximum of the contributing
// grants' classes.
type ScopeDecision struct {
	ResourceName string
	Class        PrincipalClass
	Create       bool
	Read         bool
	Update       bool
	Delete       bool
	Search       bool
}

// EvaluateScopes answers the access-control question for one resource type.
//
// The return distinguishes three cases:
//   - nil: claims contained no resource scopes at all, so scopes express no
//     opinion; the caller decides the default.
//   - non-nil with every bit false: resource scopes exist but none matches
//     resourceName. That is an explicit deny.
//   - otherwise: the merged decision.
func EvaluateScopes(claims []string, resourceName string) *ScopeDecision {
	var grants []ScopeGrant
	for _, c := range claims {
		if !IsResourceScope(c) {
			continue
		}
		grants = append(grants, ParseScope(c))
	}
	if len(grants) == 0 {
		return nil
	}

	decision := &ScopeDecision{ResourceName: resourceName}
	for _, g := range grants {
		if g.ResourceName != resourceName && g.ResourceName != "*" {
			continue
		}
		if g.Class > decision.Class {
			decision.Class = g.Class
		}
		decision.Create = decision.Create || g.Create
		decision.Read = decision.Read || g.Read
		decision.Update = decision.Update || g.Update
		decision.Delete = decision.Delete || g.Delete
		decision.Search = decision.Search || g.Search
	}
	return decision
}

// Permits is a pure lookup of the bit for op.
func (d *ScopeDecision) Permits(op Operation) bool {
	if d == nil {
		return false
	}
	switch op {
	case OpCreate:
		return d.Create
	case OpRead:
		return d.Read
	case OpUpdate:
		return d.Update
	case OpDelete:
		return d.Delete
	case OpSearch:
		return d.Search
	}
	return false
}

// DeniesEverything reports whether the decision grants no access at all.
func (d *ScopeDecision) DeniesEverything() bool {
	if d == nil {
		return false
	}
	return !d.Create && !d.Read && !d.Update && !d.Delete && !d.Search
}
