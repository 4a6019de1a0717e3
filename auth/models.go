package auth

import "time"

type Role string

const (
	// RoleAnalyst is a loan officer working scenarios through the lifecycle.
	RoleAnalyst Role = "analyst"
	// RoleService is a downstream collaborator reporting results back.
	RoleService Role = "service"
	// RoleAdmin can additionally delete scenarios and work dead letters.
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller extracted from a verified token.
type Actor struct {
	ID   string
	Role Role
}

// User is the domain representation of an authenticated account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
