package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is whoever performs a state change: a customer acting for themselves,
// studio staff, or the system itself (sweeps, promotion workers).
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func (a Actor) IsStaff() bool {
	switch a.Role {
	case RoleStaff, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Owns reports whether the actor may act on a record belonging to customerID.
func (a Actor) Owns(customerID int64) bool {
	return a.IsStaff() || a.UserID == customerID
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}
