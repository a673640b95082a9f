package models

import "time"

// Role is the platform-wide role of a user.
type Role string

// Known roles.
const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// ParseRole maps a claim value onto a Role, defaulting to student.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleInstructor, RoleAdmin:
		return Role(raw)
	default:
		return RoleStudent
	}
}

// User represents an account on the platform. Authentication lives outside this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"uniqueIndex;not null" json:"-"`
	Avatar    string    `json:"avatar"`
	Role      Role      `gorm:"type:varchar(16);not null;default:'student'" json:"role"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}
