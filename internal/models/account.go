package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccountRole represents the available roles for the RBAC system.
type AccountRole string

const (
	RoleOperator AccountRole = "OPERATOR"
	RoleWorker   AccountRole = "WORKER"
	RoleClient   AccountRole = "CLIENT"
)

// Account represents a login stored in the accounts table. Worker and
// client accounts carry the ID of their domain record in SubjectID.
type Account struct {
	ID           string      `db:"id" json:"id"`
	Email        string      `db:"email" json:"email"`
	PasswordHash string      `db:"password_hash" json:"-"`
	FullName     string      `db:"full_name" json:"full_name"`
	Role         AccountRole `db:"role" json:"role"`
	SubjectID    *string     `db:"subject_id" json:"subject_id,omitempty"`
	Active       bool        `db:"active" json:"active"`
	LastLogin    *time.Time  `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// LoginRequest holds credentials for authenticating an account.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and account info.
type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	IssuedAt    time.Time   `json:"issued_at"`
	Account     AccountInfo `json:"account"`
}

// AccountInfo describes the authenticated account in responses.
type AccountInfo struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	Role      AccountRole `json:"role"`
	SubjectID *string     `json:"subject_id,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	AccountID string      `json:"account_id"`
	Role      AccountRole `json:"role"`
	SubjectID string      `json:"subject_id,omitempty"`
	Email     string      `json:"email"`
	jwt.RegisteredClaims
}
