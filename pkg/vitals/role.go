package vitals

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// Role is the dashboard role of a user. RoleUnset is a real state: users
// created through federated sign-in have no role until they complete their
// profile.
type Role int

const (
	RoleUnset Role = iota
	RoleAdmin
	RoleDoctor
	RolePatient
	RoleRelative
)

// ErrInvalidRole is returned when a stored or supplied role is not one of the
// known roles.
var ErrInvalidRole = errors.New("invalid role")

var roleNames = map[Role]string{
	RoleAdmin:    "admin",
	RoleDoctor:   "doctor",
	RolePatient:  "patient",
	RoleRelative: "relative",
}

// ParseRole parses the stored representation. The empty string is RoleUnset.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleUnset, nil
	}
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return RoleUnset, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return ""
}

// IsSet reports whether the profile has a role.
func (r Role) IsSet() bool {
	return r != RoleUnset
}

// IsCaregiver reports whether the role sees patients through access grants.
func (r Role) IsCaregiver() bool {
	return r == RoleDoctor || r == RoleRelative
}

// Scan implements sql.Scanner. NULL and '' map to RoleUnset.
func (r *Role) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = RoleUnset
		return nil
	case string:
		role, err := ParseRole(v)
		if err != nil {
			return err
		}
		*r = role
		return nil
	case []byte:
		role, err := ParseRole(string(v))
		if err != nil {
			return err
		}
		*r = role
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidRole, value)
	}
}

// Value implements driver.Valuer. RoleUnset is stored as NULL.
func (r Role) Value() (driver.Value, error) {
	if r == RoleUnset {
		return nil, nil
	}
	name, ok := roleNames[r]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(r))
	}
	return name, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}
