package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/pkg/database"
)

// tokenRepository implements TokenRepository interface
type tokenRepository struct {
	db *database.Postgres
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *database.Postgres) TokenRepository {
	return &tokenRepository{db: db}
}

// Create stores a refresh or API token digest
func (r *tokenRepository) Create(ctx context.Context, token *domain.Token) error {
	query := `
		INSERT INTO tokens (id, kind, token_hash, user_id, client_id, expires_at, is_revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		token.ID,
		token.Kind,
		token.TokenHash,
		token.UserID,
		token.ClientID,
		token.ExpiresAt,
		token.IsRevoked,
		token.CreatedAt,
	)
	if err != nil {
		if uniqueConstraint(err) != "" {
			return fmt.Errorf("token with hash already exists: %w", ErrDuplicateToken)
		}
		return fmt.Errorf("failed to create token: %w", err)
	}

	return nil
}

// GetByHash retrieves a stored token by its digest
func (r *tokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.Token, error) {
	query := `
		SELECT id, kind, token_hash, user_id, client_id, expires_at, is_revoked, created_at
		FROM tokens
		WHERE token_hash = $1
	`

	token := &domain.Token{}
	var clientID sql.NullString

	err := r.db.DB.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.Kind,
		&token.TokenHash,
		&token.UserID,
		&clientID,
		&token.ExpiresAt,
		&token.IsRevoked,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token by hash: %w", err)
	}

	if clientID.Valid {
		token.ClientID = &clientID.String
	}

	return token, nil
}

// Revoke marks a token of the given kind revoked. It reports whether a row matched;
// revoking an already revoked token still matches.
func (r *tokenRepository) Revoke(ctx context.Context, tokenHash string, kind domain.TokenKind) (bool, error) {
	query := `
		UPDATE tokens
		SET is_revoked = TRUE
		WHERE token_hash = $1 AND kind = $2
	`

	rows, err := r.exec(ctx, "revoke token", query, tokenHash, kind)
	return rows > 0, err
}

// Consume revokes a live token in a single statement. It reports false when the token is
// unknown, already revoked or expired, so only one caller can ever consume a given token.
func (r *tokenRepository) Consume(ctx context.Context, tokenHash string, kind domain.TokenKind, now time.Time) (bool, error) {
	query := `
		UPDATE tokens
		SET is_revoked = TRUE
		WHERE token_hash = $1 AND kind = $2 AND is_revoked = FALSE AND expires_at > $3
	`

	rows, err := r.exec(ctx, "consume token", query, tokenHash, kind, now)
	return rows == 1, err
}

// RevokeAllForUser revokes every stored token owned by a user
func (r *tokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE tokens
		SET is_revoked = TRUE
		WHERE user_id = $1 AND is_revoked = FALSE
	`

	return r.exec(ctx, "revoke user tokens", query, userID)
}

// RevokeAllForClient revokes every stored token bound to a client
func (r *tokenRepository) RevokeAllForClient(ctx context.Context, clientID string) (int64, error) {
	query := `
		UPDATE tokens
		SET is_revoked = TRUE
		WHERE client_id = $1 AND is_revoked = FALSE
	`

	return r.exec(ctx, "revoke client tokens", query, clientID)
}

// RevokeExpired marks tokens whose expiry is at or before now as revoked
func (r *tokenRepository) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE tokens
		SET is_revoked = TRUE
		WHERE expires_at <= $1 AND is_revoked = FALSE
	`

	return r.exec(ctx, "revoke expired tokens", query, now)
}

// DeleteRevokedOrExpired removes tokens that can no longer be used
func (r *tokenRepository) DeleteRevokedOrExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM tokens
		WHERE is_revoked = TRUE OR expires_at <= $1
	`

	return r.exec(ctx, "delete unusable tokens", query, now)
}

func (r *tokenRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
