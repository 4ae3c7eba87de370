package shared

// Role is the closed set of caller capabilities supplied by the identity
// collaborator. The core treats it as an opaque capability set; there is no
// role hierarchy.
type Role string

const (
	// RoleOriginator may create and delete its own documents.
	RoleOriginator Role = "originator"
	// RoleReviewer may claim, decide and correct documents.
	RoleReviewer Role = "reviewer"
	// RoleAdmin may additionally override statuses and settle instruments.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOriginator, RoleReviewer, RoleAdmin:
		return true
	}
	return false
}

// AnyOf reports whether r is contained in the given capability set.
func (r Role) AnyOf(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}
