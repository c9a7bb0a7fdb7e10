package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles carried in access tokens.
type UserRole string

const (
	RoleApplicant UserRole = "APPLICANT"
	RoleOfficer   UserRole = "OFFICER"
	RoleAdmin     UserRole = "ADMIN"
	RoleSystem    UserRole = "SYSTEM"
)

// IsStaff reports whether the role may act on cases it does not own.
func (r UserRole) IsStaff() bool {
	return r == RoleOfficer || r == RoleAdmin || r == RoleSystem
}

// JWTClaims represents the access token payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// Actor identifies who performs an operation. Scheduled runs use RoleSystem.
type Actor struct {
	ID   string
	Role UserRole
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
