package service

import (
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
)

const tokenTypeBearer = "Bearer"

func toUserInfo(user *domain.User) dto.UserInfo {
	return dto.UserInfo{
		ID:               user.ID,
		Email:            user.Email,
		Role:             string(user.Role),
		Status:           string(user.Status),
		TwoFactorEnabled: user.TwoFactorEnabled,
		LastLoginAt:      user.LastLoginAt,
		CreatedAt:        user.CreatedAt,
	}
}

func toClientInfo(client *domain.Client) dto.ClientInfo {
	return dto.ClientInfo{
		ID:          client.ID,
		UserID:      client.UserID,
		ClientID:    client.ClientID,
		Name:        client.Name,
		Description: client.Description,
		Status:      string(client.Status),
		UsageQuota:  client.UsageQuota,
		UsageCount:  client.UsageCount,
		ResetDate:   client.ResetDate,
		ApprovedAt:  client.ApprovedAt,
		LastUsedAt:  client.LastUsedAt,
		CreatedAt:   client.CreatedAt,
	}
}

func toClientInfos(clients []*domain.Client) []dto.ClientInfo {
	infos := make([]dto.ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, toClientInfo(c))
	}
	return infos
}

// newTokenResponse builds the login payload for an issued pair
func (s *authService) newTokenResponse(user *domain.User, client *domain.Client, pair *domain.TokenPair) *dto.LoginResponse {
	userInfo := toUserInfo(user)
	resp := &dto.LoginResponse{
		UserID:                user.ID,
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		TokenType:             tokenTypeBearer,
		ExpiresIn:             int(s.tokens.AccessTokenTTL().Seconds()),
		AccessTokenExpiresAt:  &pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: &pair.RefreshTokenExpiresAt,
		User:                  &userInfo,
	}
	if client != nil {
		clientInfo := toClientInfo(client)
		resp.ClientID = client.ClientID
		resp.Client = &clientInfo
	}
	return resp
}

// newTwoFactorChallenge builds the login payload when a second factor is still required
func newTwoFactorChallenge(user *domain.User, client *domain.Client) *dto.LoginResponse {
	resp := &dto.LoginResponse{
		RequireTwoFactor: true,
		UserID:           user.ID,
	}
	if client != nil {
		resp.ClientID = client.ClientID
	}
	return resp
}
