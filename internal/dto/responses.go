package dto

import "time"

// Envelope is embedded in every response body
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Succeed marks the response successful
func (e *Envelope) Succeed(message string) {
	e.Success = true
	e.Message = message
}

// MessageResponse is a response with no payload
type MessageResponse struct {
	Envelope
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Envelope
	Details interface{} `json:"details,omitempty"`
}

// NewErrorResponse builds a failed envelope
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Envelope: Envelope{Success: false, Message: message, Error: code}}
}

// UserInfo represents user information in responses
type UserInfo struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	Status           string     `json:"status"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// ClientInfo represents client information in responses
type ClientInfo struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ClientID    string     `json:"clientId"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Status      string     `json:"status"`
	UsageQuota  int        `json:"usageQuota"`
	UsageCount  int        `json:"usageCount"`
	ResetDate   time.Time  `json:"resetDate"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// RegisterData is the payload of a successful registration
type RegisterData struct {
	User         UserInfo   `json:"user"`
	Client       ClientInfo `json:"client"`
	ClientSecret string     `json:"clientSecret"`
}

// RegisterResponse represents a registration response
type RegisterResponse struct {
	Envelope
	Data RegisterData `json:"data"`
}

// LoginResponse is returned by login and verify-2fa. When RequireTwoFactor is set no tokens are present.
type LoginResponse struct {
	Envelope
	RequireTwoFactor      bool        `json:"requireTwoFactor,omitempty"`
	UserID                string      `json:"userId,omitempty"`
	ClientID              string      `json:"clientId,omitempty"`
	AccessToken           string      `json:"accessToken,omitempty"`
	RefreshToken          string      `json:"refreshToken,omitempty"`
	TokenType             string      `json:"tokenType,omitempty"`
	ExpiresIn             int         `json:"expiresIn,omitempty"`
	AccessTokenExpiresAt  *time.Time  `json:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *time.Time  `json:"refreshTokenExpiresAt,omitempty"`
	User                  *UserInfo   `json:"user,omitempty"`
	Client                *ClientInfo `json:"client,omitempty"`
}

// RefreshResponse represents a token refresh response
type RefreshResponse struct {
	Envelope
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	TokenType             string    `json:"tokenType"`
	ExpiresIn             int       `json:"expiresIn"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// ChangeSecretResponse returns the rotated client secret once
type ChangeSecretResponse struct {
	Envelope
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// GenerateTokenResponse returns a new API token
type GenerateTokenResponse struct {
	Envelope
	Token      string    `json:"token"`
	TokenType  string    `json:"tokenType"`
	ExpiresAt  time.Time `json:"expiresAt"`
	UsageCount int       `json:"usageCount"`
	UsageQuota int       `json:"usageQuota"`
}

// GenerateTwoFactorResponse returns a candidate TOTP secret; nothing is stored yet
type GenerateTwoFactorResponse struct {
	Envelope
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCodeURL  string `json:"qrCodeUrl"`
}

// EnableTwoFactorResponse returns the plaintext backup codes once
type EnableTwoFactorResponse struct {
	Envelope
	BackupCodes []string `json:"backupCodes"`
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	Envelope
	User    UserInfo     `json:"user"`
	Clients []ClientInfo `json:"clients"`
}

// ClientResponse wraps a single client
type ClientResponse struct {
	Envelope
	Client ClientInfo `json:"client"`
}

// ClientListResponse wraps a page of clients
type ClientListResponse struct {
	Envelope
	Clients []ClientInfo `json:"clients"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// CleanupResponse reports a token sweep
type CleanupResponse struct {
	Envelope
	Revoked int64 `json:"revoked"`
	Deleted int64 `json:"deleted"`
}

// HealthResponse reports the state of each backing dependency
type HealthResponse struct {
	Envelope
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
