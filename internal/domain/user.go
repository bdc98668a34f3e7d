package domain

import (
	"time"
)

type Role string

const (
	RoleInstructor Role = "讲师"
	RoleAdmin      Role = "管理员"
)

type User struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenantID"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}
