package library

import "fmt"

// Session identifies the logged-in user. It is returned by Login and passed
// explicitly to every operation that needs to know who is acting.
type Session struct {
	UserID string
	Name   string
	Email  string
	Role   Role
}

func newSession(u *User) *Session {
	return &Session{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// IsAdmin reports whether the session carries the admin role.
func (s *Session) IsAdmin() bool { return s != nil && s.Role == RoleAdmin }

// Operation names an action that is subject to authorization.
type Operation string

const (
	OpAddBook       Operation = "add book"
	OpDeleteBook    Operation = "delete book"
	OpAddUser       Operation = "add user"
	OpDeleteUser    Operation = "delete user"
	OpListUsers     Operation = "list users"
	OpOverdueReport Operation = "overdue report"
	OpBorrow        Operation = "borrow"
	OpReturn        Operation = "return"
	OpHistory       Operation = "history"
)

// requiredRoles lists the minimum role for each gated operation.
// Operations missing from the table need no session at all.
var requiredRoles = map[Operation]Role{
	OpAddBook:       RoleAdmin,
	OpDeleteBook:    RoleAdmin,
	OpAddUser:       RoleAdmin,
	OpDeleteUser:    RoleAdmin,
	OpListUsers:     RoleAdmin,
	OpOverdueReport: RoleAdmin,
	OpBorrow:        RoleUser,
	OpReturn:        RoleUser,
	OpHistory:       RoleUser,
}

func roleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	}
	return 0
}

// Allowed reports whether the session may perform op.
func (s *Session) Allowed(op Operation) bool {
	return authorize(s, op) == nil
}

// authorize is the single gate every service method passes through before
// touching the store.
func authorize(s *Session, op Operation) error {
	need, gated := requiredRoles[op]
	if !gated {
		return nil
	}
	if s == nil {
		return fmt.Errorf("%w: %s requires login", ErrPermission, op)
	}
	if roleRank(s.Role) < roleRank(need) {
		return fmt.Errorf("%w: %s requires role %q", ErrPermission, op, need)
	}
	return nil
}
