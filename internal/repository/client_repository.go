package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/pkg/database"
)

const clientColumns = `id, user_id, name, description, client_id, secret_hash, status, usage_quota,
	usage_count, reset_date, approved_by, approved_at, last_used_at, created_at, updated_at`

const defaultClientListLimit = 50

type rowScanner interface {
	Scan(dest ...any) error
}

// clientRepository implements ClientRepository interface
type clientRepository struct {
	db *database.Postgres
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *database.Postgres) ClientRepository {
	return &clientRepository{db: db}
}

// GetByID retrieves a client by its row id
func (r *clientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	if err := checkID("client", id); err != nil {
		return nil, err
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

	client, err := scanClient(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client by id: %w", err)
	}

	return client, nil
}

// GetByClientID retrieves a client by its public identifier
func (r *clientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE client_id = $1`

	client, err := scanClient(r.db.DB.QueryRowContext(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %s not found: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client by client id: %w", err)
	}

	return client, nil
}

// ListByUser returns the clients owned by a user, oldest first
func (r *clientRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE user_id = $1 ORDER BY created_at ASC`

	return r.list(ctx, query, userID)
}

// List returns clients newest first, optionally filtered by status
func (r *clientRepository) List(ctx context.Context, filter ClientFilter) ([]*domain.Client, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultClientListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + clientColumns + ` FROM clients`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.list(ctx, query, args...)
}

// UpdateStatus moves a client from one status to another. The row must still be in from,
// otherwise ErrStatusChanged is returned.
func (r *clientRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ClientStatus, approvedBy *string, at time.Time) error {
	query := `
		UPDATE clients
		SET status = $3,
			approved_by = COALESCE($4, approved_by),
			approved_at = CASE WHEN $4::uuid IS NULL THEN approved_at ELSE $5 END,
			updated_at = $5
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.DB.ExecContext(ctx, query, id, from, to, approvedBy, at)
	if err != nil {
		return fmt.Errorf("failed to update client status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("client %s is no longer %s: %w", id, from, ErrStatusChanged)
	}

	return nil
}

// UpdateSecret replaces the stored secret digest
func (r *clientRepository) UpdateSecret(ctx context.Context, id, secretHash string) error {
	query := `
		UPDATE clients
		SET secret_hash = $2, updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, "update client secret", query, id, secretHash)
}

// TouchLastUsed records the time a client last authenticated
func (r *clientRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE clients
		SET last_used_at = $2
		WHERE id = $1
	`

	return r.execOne(ctx, "touch client", query, id, at)
}

// IncrementUsage counts one request against the client's quota, starting a new period
// when the reset date has passed. A request that does not fit is not counted and comes
// back with Rejected set.
func (r *clientRepository) IncrementUsage(ctx context.Context, id string, now time.Time, period time.Duration) (domain.Usage, error) {
	query := `
		UPDATE clients
		SET usage_count = CASE WHEN reset_date <= $2 THEN 1 ELSE usage_count + 1 END,
			reset_date = CASE WHEN reset_date <= $2 THEN $3 ELSE reset_date END,
			last_used_at = $2
		WHERE id = $1
			AND (usage_quota = 0 OR reset_date <= $2 OR usage_count < usage_quota)
		RETURNING usage_count, usage_quota, reset_date
	`

	var usage domain.Usage
	err := r.db.DB.QueryRowContext(ctx, query, id, now, now.Add(period)).Scan(
		&usage.Count,
		&usage.Quota,
		&usage.ResetDate,
	)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Usage{}, fmt.Errorf("failed to increment client usage: %w", err)
	}

	// nothing updated: either the client is gone or its quota is spent
	err = r.db.DB.QueryRowContext(ctx,
		`SELECT usage_count, usage_quota, reset_date FROM clients WHERE id = $1`, id,
	).Scan(&usage.Count, &usage.Quota, &usage.ResetDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Usage{}, fmt.Errorf("client %s not found: %w", id, ErrNotFound)
		}
		return domain.Usage{}, fmt.Errorf("failed to read client usage: %w", err)
	}

	usage.Rejected = true
	return usage, nil
}

func (r *clientRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Client, error) {
	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]*domain.Client, 0)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}

	return clients, nil
}

func (r *clientRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("client %s not found: %w", args[0], ErrNotFound)
	}

	return nil
}

func scanClient(row rowScanner) (*domain.Client, error) {
	client := &domain.Client{}
	var (
		description sql.NullString
		approvedBy  sql.NullString
		approvedAt  sql.NullTime
		lastUsedAt  sql.NullTime
	)

	err := row.Scan(
		&client.ID,
		&client.UserID,
		&client.Name,
		&description,
		&client.ClientID,
		&client.SecretHash,
		&client.Status,
		&client.UsageQuota,
		&client.UsageCount,
		&client.ResetDate,
		&approvedBy,
		&approvedAt,
		&lastUsedAt,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		client.Description = &description.String
	}
	if approvedBy.Valid {
		client.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		client.ApprovedAt = &approvedAt.Time
	}
	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	return client, nil
}
