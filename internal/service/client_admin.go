package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"go.uber.org/zap"
)

// clientAdminService implements ClientAdminService interface
type clientAdminService struct {
	userRepo   repository.UserRepository
	clientRepo repository.ClientRepository
	tokens     TokenService
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewClientAdminService creates a new client administration service
func NewClientAdminService(
	userRepo repository.UserRepository,
	clientRepo repository.ClientRepository,
	tokens TokenService,
	notifier Notifier,
	logger *zap.Logger,
) ClientAdminService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &clientAdminService{
		userRepo:   userRepo,
		clientRepo: clientRepo,
		tokens:     tokens,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// ListClients returns a page of clients, optionally filtered by status
func (s *clientAdminService) ListClients(ctx context.Context, query *dto.ListClientsQuery) (*dto.ClientListResponse, error) {
	filter := repository.ClientFilter{Limit: query.Limit, Offset: query.Offset}
	if query.Status != "" {
		status := domain.ClientStatus(query.Status)
		if !status.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("unknown client status %q", query.Status))
		}
		filter.Status = &status
	}

	clients, err := s.clientRepo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &dto.ClientListResponse{
		Clients: toClientInfos(clients),
		Limit:   query.Limit,
		Offset:  query.Offset,
	}, nil
}

// ApproveClient activates a pending or suspended client
func (s *clientAdminService) ApproveClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error) {
	return s.transition(ctx, adminID, id, domain.ClientStatusActive)
}

// SuspendClient suspends an active client
func (s *clientAdminService) SuspendClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error) {
	return s.transition(ctx, adminID, id, domain.ClientStatusSuspended)
}

// RevokeClient permanently revokes a client and every token bound to it
func (s *clientAdminService) RevokeClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error) {
	resp, err := s.transition(ctx, adminID, id, domain.ClientStatusRevoked)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.RevokeAllForClient(ctx, id); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteUser soft-deletes a user and revokes their stored tokens
func (s *clientAdminService) DeleteUser(ctx context.Context, adminID, userID string) error {
	if adminID == userID {
		return apperr.WithMessage(apperr.ErrForbidden, "Admins cannot delete their own account")
	}

	if err := s.userRepo.SoftDelete(ctx, userID, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Wrap(apperr.ErrUserNotFound, err)
		}
		return apperr.Internal(fmt.Errorf("failed to delete user: %w", err))
	}

	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("User deleted", zap.String("user_id", userID), zap.String("admin_id", adminID))
	return nil
}

// CleanupTokens runs the token sweep on demand
func (s *clientAdminService) CleanupTokens(ctx context.Context) (*dto.CleanupResponse, error) {
	result, err := s.tokens.CleanupExpired(ctx, s.now())
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Info("Token cleanup completed",
		zap.Int64("revoked", result.Revoked),
		zap.Int64("deleted", result.Deleted),
	)
	return &dto.CleanupResponse{Revoked: result.Revoked, Deleted: result.Deleted}, nil
}

func (s *clientAdminService) transition(ctx context.Context, adminID, id string, to domain.ClientStatus) (*dto.ClientResponse, error) {
	client, err := s.clientRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrClientNotFound, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get client: %w", err))
	}

	from := client.Status
	if !domain.CanTransition(from, to) {
		return nil, apperr.WithMessage(apperr.ErrInvalidTransition,
			fmt.Sprintf("Client cannot move from %s to %s", from, to))
	}

	var approvedBy *string
	if to == domain.ClientStatusActive {
		approvedBy = &adminID
	}

	now := s.now()
	if err := s.clientRepo.UpdateStatus(ctx, client.ID, from, to, approvedBy, now); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, apperr.Wrap(apperr.ErrInvalidTransition, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to update client status: %w", err))
	}

	client.Status = to
	client.UpdatedAt = now
	if approvedBy != nil {
		client.ApprovedBy = approvedBy
		client.ApprovedAt = &now
	}

	s.logger.Info("Client status changed",
		zap.String("client_id", client.ClientID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("admin_id", adminID),
	)
	s.notifyOwner(ctx, client)

	return &dto.ClientResponse{Client: toClientInfo(client)}, nil
}

func (s *clientAdminService) notifyOwner(ctx context.Context, client *domain.Client) {
	owner, err := s.userRepo.GetByID(ctx, client.UserID)
	if err != nil {
		s.logger.Warn("Failed to load client owner for notification",
			zap.String("client_id", client.ClientID),
			zap.Error(err),
		)
		return
	}

	snapshot := *client
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.SendClientStatusChanged(ctx, owner.Email, &snapshot); err != nil {
			s.logger.Warn("Failed to send notification", zap.String("kind", "client_status"), zap.Error(err))
		}
	}()
}
