package model

import "time"

// Account is a stored user row. The auth core only reads it.
type Account struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Phone        string     `json:"phone,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Permission struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Principal is the authenticated identity handed to the route layer.
// Roles lists every role assigned to the account.
type Principal struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	IsActive   bool       `json:"isActive"`
	IsVerified bool       `json:"isVerified"`
	Roles      []string   `json:"roles"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

func NewPrincipal(account Account, roles []Role) Principal {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	return Principal{
		ID:         account.ID,
		Email:      account.Email,
		FirstName:  account.FirstName,
		LastName:   account.LastName,
		IsActive:   account.IsActive,
		IsVerified: account.IsVerified,
		Roles:      names,
		LastLogin:  account.LastLogin,
	}
}

type LoginResult struct {
	AccessToken       string    `json:"accessToken"`
	RefreshToken      string    `json:"refreshToken"`
	TokenType         string    `json:"tokenType"`
	AccessTTLSeconds  int64     `json:"accessTTLSeconds"`
	RefreshTTLSeconds int64     `json:"refreshTTLSeconds"`
	Principal         Principal `json:"principal"`
}

type RefreshResult struct {
	AccessToken      string `json:"accessToken"`
	TokenType        string `json:"tokenType"`
	AccessTTLSeconds int64  `json:"accessTTLSeconds"`
}

type MeResponse struct {
	Principal   Principal `json:"principal"`
	Permissions []string  `json:"permissions"`
}
