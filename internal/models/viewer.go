package models

type Role string

const (
	RoleUser      Role = "user"
	RoleScientist Role = "scientist"
	RoleAdmin     Role = "admin"
)

// ParseRole maps a token role claim onto a Role, defaulting to RoleUser.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	case RoleScientist:
		return RoleScientist
	default:
		return RoleUser
	}
}

// Viewer is the requester an observation is shaped for.
// A nil *Viewer is an unauthenticated requester.
type Viewer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// IDPtr returns a pointer to the viewer id, or nil for anonymous requests.
func (v *Viewer) IDPtr() *int64 {
	if v == nil {
		return nil
	}
	id := v.ID
	return &id
}

// Owns reports whether the viewer submitted the given observation.
func (v *Viewer) Owns(o *Observation) bool {
	return v != nil && o != nil && v.ID == o.UserID
}
