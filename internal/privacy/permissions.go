package privacy

import (
	"github.com/TreeSnap/Export-Service/internal/models"
)

type Capability string

const (
	CapExactLocation Capability = "observations.exact-location"
	CapViewPrivate   Capability = "observations.private"
	CapManageFlags   Capability = "flags.manage"
	CapManageUsers   Capability = "users.manage"
	CapViewAnyFilter Capability = "filters.view-any"
	CapAdminView     Capability = "observations.admin-view"
)

type capabilitySet map[Capability]struct{}

func newSet(caps ...Capability) capabilitySet {
	s := make(capabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s capabilitySet) with(caps ...Capability) capabilitySet {
	out := make(capabilitySet, len(s)+len(caps))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range caps {
		out[c] = struct{}{}
	}
	return out
}

var (
	userCaps      = newSet()
	scientistCaps = userCaps.with(CapExactLocation, CapViewPrivate)
	adminCaps     = scientistCaps.with(CapManageFlags, CapManageUsers, CapViewAnyFilter, CapAdminView)

	roleCapabilities = map[models.Role]capabilitySet{
		models.RoleUser:      userCaps,
		models.RoleScientist: scientistCaps,
		models.RoleAdmin:     adminCaps,
	}
)

// HasCapability reports whether role is granted tag.
func HasCapability(role models.Role, tag Capability) bool {
	_, ok := roleCapabilities[role][tag]
	return ok
}

// ViewerCan is HasCapability for a possibly anonymous viewer.
func ViewerCan(v *models.Viewer, tag Capability) bool {
	return v != nil && HasCapability(v.Role, tag)
}

// CanSeeExactLocationAndComments is true for admins, scientists and the owner.
func CanSeeExactLocationAndComments(v *models.Viewer, o *models.Observation) bool {
	if v == nil {
		return false
	}
	return HasCapability(v.Role, CapExactLocation) || v.Owns(o)
}

// IsVisible reports whether o may appear in any result set shown to v.
// A private observation does not exist for unprivileged viewers.
func IsVisible(v *models.Viewer, o *models.Observation) bool {
	return !o.IsPrivate || CanSeeExactLocationAndComments(v, o)
}

// CanSeeComment applies the private-comment flag. Only the owner bypasses it.
func CanSeeComment(v *models.Viewer, o *models.Observation) bool {
	return !o.HasPrivateComments || v.Owns(o)
}
