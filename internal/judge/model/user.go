package model

// UserType is the account class of a user.
type UserType string

const (
	UserNormal  UserType = "normal"
	UserTeacher UserType = "teacher"
	UserAdmin   UserType = "admin"
)

// User is the read-only view of an account.
type User struct {
	ID       int64
	Username string
	Type     UserType
}

// Privileged reports whether the user may bypass round visibility and time windows.
func (u UserType) Privileged() bool {
	return u == UserTeacher || u == UserAdmin
}

// Privilege gates which user types may submit to a task or round.
type Privilege string

const (
	PrivilegeAdmin   Privilege = "admin"
	PrivilegeTeacher Privilege = "teacher"
	PrivilegeAll     Privilege = "all"
)

// Allows reports whether a user of type t satisfies p.
// Unknown privilege values admit nobody.
func (p Privilege) Allows(t UserType) bool {
	switch p {
	case PrivilegeAll:
		return true
	case PrivilegeTeacher:
		return t == UserTeacher || t == UserAdmin
	case PrivilegeAdmin:
		return t == UserAdmin
	}
	return false
}
