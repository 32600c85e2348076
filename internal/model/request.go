package model

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
