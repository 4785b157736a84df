package model

type Role string

const (
	RoleRequester Role = "Requester"
	RoleApprover  Role = "Approver"
)

// Identity is the authenticated caller. It is passed explicitly into every
// service operation.
type Identity struct {
	UserID      int64
	DisplayName string
	Roles       []Role
}

func (i Identity) HasRole(r Role) bool {
	for _, have := range i.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (i Identity) IsApprover() bool { return i.HasRole(RoleApprover) }

// RequesterOnly is true for field staff without approval rights; such callers
// see only their own tickets.
func (i Identity) RequesterOnly() bool {
	return i.HasRole(RoleRequester) && !i.HasRole(RoleApprover)
}

func (i Identity) Authenticated() bool {
	return i.HasRole(RoleRequester) || i.HasRole(RoleApprover)
}
