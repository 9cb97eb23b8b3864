package models

import "time"

// Operator is a dashboard user (till operator or administrator).
type Operator struct {
	BaseModel

	Username     string       `gorm:"uniqueIndex;not null" json:"username"`
	// Email is optional; the username is the unique handle.
	Email        string       `gorm:"index" json:"email"`
	PasswordHash string       `gorm:"not null" json:"-"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Role         OperatorRole `gorm:"not null;default:operator" json:"role"`
	IsActive     bool         `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"-"`
}

// IsAdmin reports whether the operator holds the admin role.
func (o *Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}
