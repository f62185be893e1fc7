package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/pkg/database"
)

const userColumns = `id, email, password_hash, status, role, two_factor_enabled, two_factor_secret,
	backup_codes, last_login_at, created_at, updated_at, deleted_at`

// userRepository implements UserRepository interface
type userRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres) UserRepository {
	return &userRepository{db: db}
}

// CreateWithClient inserts a user and its first client in one transaction
func (r *userRepository) CreateWithClient(ctx context.Context, user *domain.User, client *domain.Client) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	client.UserID = user.ID

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt
	if client.CreatedAt.IsZero() {
		client.CreatedAt = user.CreatedAt
	}
	client.UpdatedAt = client.CreatedAt

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, password_hash, status, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			user.ID,
			user.Email,
			user.PasswordHash,
			user.Status,
			user.Role,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			if uniqueConstraint(err) != "" {
				return fmt.Errorf("user with email %s already exists: %w", user.Email, ErrDuplicateEmail)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO clients (id, user_id, name, description, client_id, secret_hash, status,
				usage_quota, usage_count, reset_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			client.ID,
			client.UserID,
			client.Name,
			client.Description,
			client.ClientID,
			client.SecretHash,
			client.Status,
			client.UsageQuota,
			client.UsageCount,
			client.ResetDate,
			client.CreatedAt,
			client.UpdatedAt,
		)
		if err != nil {
			if uniqueConstraint(err) != "" {
				return fmt.Errorf("client %s: %w", client.ClientID, ErrDuplicateClientID)
			}
			return fmt.Errorf("failed to create client: %w", err)
		}

		return nil
	})
}

// GetByEmail retrieves a non-deleted user by email
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s not found: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetByID retrieves a non-deleted user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := checkID("user", id); err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// UpdatePassword replaces the stored password hash
func (r *userRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	return r.execOne(ctx, "update password", query, userID, passwordHash)
}

// UpdateLastLogin updates the last login timestamp
func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE users
		SET last_login_at = $2
		WHERE id = $1
	`

	return r.execOne(ctx, "update last login", query, userID, at)
}

// EnableTwoFactor stores the secret, the enabled flag and the backup code digests in one statement
func (r *userRepository) EnableTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = TRUE, two_factor_secret = $2, backup_codes = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	return r.execOne(ctx, "enable two-factor", query, userID, secret, pq.Array(backupCodeHashes))
}

// DisableTwoFactor clears the flag, the secret and all backup codes
func (r *userRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = FALSE, two_factor_secret = NULL, backup_codes = '{}', updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	return r.execOne(ctx, "disable two-factor", query, userID)
}

// ConsumeBackupCode removes codeHash from the user's backup codes. It reports false when the
// code is not present, so two concurrent uses of one code cannot both succeed.
func (r *userRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	query := `
		UPDATE users
		SET backup_codes = array_remove(backup_codes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_codes)
	`

	result, err := r.db.DB.ExecContext(ctx, query, userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// SoftDelete marks the user deleted and deactivates it
func (r *userRepository) SoftDelete(ctx context.Context, userID string, at time.Time) error {
	if err := checkID("user", userID); err != nil {
		return err
	}
	query := `
		UPDATE users
		SET deleted_at = $2, status = 'inactive', updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	return r.execOne(ctx, "soft delete user", query, userID, at)
}

func (r *userRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user with id %s not found: %w", args[0], ErrNotFound)
	}

	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		secret      sql.NullString
		lastLoginAt sql.NullTime
		deletedAt   sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Status,
		&user.Role,
		&user.TwoFactorEnabled,
		&secret,
		pq.Array(&user.BackupCodes),
		&lastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if secret.Valid {
		user.TwoFactorSecret = &secret.String
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}

	return user, nil
}
