package types

import "sort"

// AccessScope describes which sites a caller may act on. It is computed once
// per request from the caller's role assignments.
type AccessScope struct {
	unrestricted bool
	sites        map[string]struct{}
}

// Unrestricted returns a scope that allows every site.
func Unrestricted() AccessScope {
	return AccessScope{unrestricted: true}
}

// SiteSet returns a scope limited to the given site ids.
func SiteSet(siteIDs ...string) AccessScope {
	sites := make(map[string]struct{}, len(siteIDs))
	for _, id := range siteIDs {
		if id != "" {
			sites[id] = struct{}{}
		}
	}
	return AccessScope{sites: sites}
}

// RoleAssignment is one role granted to a user, optionally bound to a site.
type RoleAssignment struct {
	Role   string  `json:"role"`
	SiteID *string `json:"site_id,omitempty"`
}

// ScopeFromAssignments derives an AccessScope from role assignments. When no
// assignment names a site the caller is unrestricted.
func ScopeFromAssignments(assignments []RoleAssignment) AccessScope {
	var ids []string
	for _, a := range assignments {
		if a.SiteID != nil && *a.SiteID != "" {
			ids = append(ids, *a.SiteID)
		}
	}
	if len(ids) == 0 {
		return Unrestricted()
	}
	return SiteSet(ids...)
}

// IsUnrestricted reports whether the scope allows every site.
func (s AccessScope) IsUnrestricted() bool {
	return s.unrestricted
}

// Allows reports whether the scope includes siteID.
func (s AccessScope) Allows(siteID string) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.sites[siteID]
	return ok
}

// Check returns a permission error when siteID is outside the scope.
func (s AccessScope) Check(siteID string) error {
	if s.Allows(siteID) {
		return nil
	}
	return NewAppErrorWithDetails(ErrCodePermissionSiteDenied, "access to site denied", nil,
		map[string]any{"site_id": siteID})
}

// SiteIDs returns the sorted site ids of a restricted scope, or nil when
// unrestricted.
func (s AccessScope) SiteIDs() []string {
	if s.unrestricted {
		return nil
	}
	ids := make([]string, 0, len(s.sites))
	for id := range s.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Role names granted through role assignments.
const (
	RoleAdmin  = "ADMIN"
	RoleFM     = "FM"
	RoleTech   = "TECH"
	RoleVendor = "VENDOR"
	RoleViewer = "VIEWER"
)

// Principal is an authenticated caller: who they are, which sites they may
// touch and which roles they hold.
type Principal struct {
	Actor Actor
	Scope AccessScope
	Roles []string
}

// HasAnyRole reports whether the principal holds one of roles. System
// principals hold every role.
func (p Principal) HasAnyRole(roles ...string) bool {
	if p.Actor.IsSystem() {
		return true
	}
	for _, held := range p.Roles {
		for _, r := range roles {
			if held == r {
				return true
			}
		}
	}
	return false
}
