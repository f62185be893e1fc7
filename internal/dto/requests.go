package dto

// RegisterRequest represents a registration request
type RegisterRequest struct {
	ClientName      string  `json:"clientName" binding:"required,max=255"`
	Email           string  `json:"email" binding:"required"`
	Password        string  `json:"password" binding:"required"`
	ConfirmPassword string  `json:"confirmPassword"`
	Description     *string `json:"description"`
}

// LoginRequest carries either email+password or clientId+clientSecret
type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// UsesClientCredentials reports whether the request authenticates a client rather than a user
func (r *LoginRequest) UsesClientCredentials() bool {
	return r.ClientID != "" || r.ClientSecret != ""
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// LogoutRequest represents a logout request; the refresh token is optional
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

// ChangeSecretRequest represents a client secret rotation request
type ChangeSecretRequest struct {
	ClientID      string `json:"clientId" binding:"required"`
	CurrentSecret string `json:"currentSecret" binding:"required"`
}

// GenerateTokenRequest exchanges client credentials for an API token
type GenerateTokenRequest struct {
	ClientID     string `json:"clientId" binding:"required"`
	ClientSecret string `json:"clientSecret" binding:"required"`
}

// EnableTwoFactorRequest carries the candidate secret back together with a code generated from it
type EnableTwoFactorRequest struct {
	Secret string `json:"secret" binding:"required"`
	Token  string `json:"token" binding:"required"`
}

// DisableTwoFactorRequest represents a 2FA disable request; the code is optional
type DisableTwoFactorRequest struct {
	Token string `json:"token"`
}

// VerifyTwoFactorRequest completes a login that required a second factor
type VerifyTwoFactorRequest struct {
	UserID     string `json:"userId" binding:"required"`
	ClientID   string `json:"clientId"`
	Token      string `json:"token"`
	BackupCode string `json:"backupCode"`
}

// ListClientsQuery filters the admin client listing
type ListClientsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}
