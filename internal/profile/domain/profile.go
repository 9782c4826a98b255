package domain

import (
	"errors"
	"time"
)

// Profile is the application-owned user record, keyed by email.
type Profile struct {
	ID        string
	Email     string
	FullName  string
	Role      Role
	UserType  UserType // empty when the account has no marketplace type yet
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type UserType string

const (
	UserTypeTeacher UserType = "teacher"
	UserTypeStudent UserType = "student"
	UserTypeCenter  UserType = "center"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Valid reports whether t is one of the known user types or empty.
func (t UserType) Valid() bool {
	switch t {
	case "", UserTypeTeacher, UserTypeStudent, UserTypeCenter:
		return true
	}
	return false
}

// Validate validates the profile for persistence. Returns an error describing the first validation failure.
func (p *Profile) Validate() error {
	if p.Email == "" {
		return errors.New("email is required")
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if !p.Role.Valid() {
		return errors.New("invalid role")
	}
	if !p.UserType.Valid() {
		return errors.New("invalid user type")
	}
	return nil
}
