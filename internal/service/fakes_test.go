package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fakeUserRepo is an in-memory UserRepository
type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	clients *fakeClientRepo
}

func newFakeUserRepo(clients *fakeClientRepo) *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}, clients: clients}
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.BackupCodes = append([]string(nil), u.BackupCodes...)
	if u.TwoFactorSecret != nil {
		secret := *u.TwoFactorSecret
		c.TwoFactorSecret = &secret
	}
	return &c
}

func (r *fakeUserRepo) CreateWithClient(ctx context.Context, user *domain.User, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return fmt.Errorf("user with email %s already exists: %w", user.Email, repository.ErrDuplicateEmail)
		}
	}
	if _, err := r.clients.GetByClientID(ctx, client.ClientID); err == nil {
		return repository.ErrDuplicateClientID
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	client.UserID = user.ID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt

	r.users[user.ID] = copyUser(user)
	r.clients.put(client)
	return nil
}

func (r *fakeUserRepo) put(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = copyUser(user)
}

func (r *fakeUserRepo) raw(id string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return copyUser(u)
	}
	return nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.DeletedAt == nil {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *fakeUserRepo) update(id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return r.update(userID, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return r.update(userID, func(u *domain.User) { u.LastLoginAt = &at })
}

func (r *fakeUserRepo) EnableTwoFactor(_ context.Context, userID, secret string, backupCodeHashes []string) error {
	return r.update(userID, func(u *domain.User) {
		u.TwoFactorEnabled = true
		u.TwoFactorSecret = &secret
		u.BackupCodes = append([]string(nil), backupCodeHashes...)
	})
}

func (r *fakeUserRepo) DisableTwoFactor(_ context.Context, userID string) error {
	return r.update(userID, func(u *domain.User) {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = nil
		u.BackupCodes = nil
	})
}

func (r *fakeUserRepo) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	for i, h := range u.BackupCodes {
		if h == codeHash {
			u.BackupCodes = append(u.BackupCodes[:i:i], u.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) SoftDelete(_ context.Context, userID string, at time.Time) error {
	return r.update(userID, func(u *domain.User) {
		u.DeletedAt = &at
		u.Status = domain.UserStatusInactive
	})
}

// fakeClientRepo is an in-memory ClientRepository
type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: map[string]*domain.Client{}}
}

func copyClient(c *domain.Client) *domain.Client {
	cp := *c
	return &cp
}

func (r *fakeClientRepo) put(client *domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = copyClient(client)
}

func (r *fakeClientRepo) GetByID(_ context.Context, id string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyClient(c), nil
}

func (r *fakeClientRepo) GetByClientID(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ClientID == clientID {
			return copyClient(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeClientRepo) ListByUser(_ context.Context, userID string) ([]*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Client
	for _, c := range r.clients {
		if c.UserID == userID {
			out = append(out, copyClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeClientRepo) List(_ context.Context, filter repository.ClientFilter) ([]*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Client
	for _, c := range r.clients {
		if filter.Status == nil || c.Status == *filter.Status {
			out = append(out, copyClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeClientRepo) UpdateStatus(_ context.Context, id string, from, to domain.ClientStatus, approvedBy *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Status != from {
		return repository.ErrStatusChanged
	}
	c.Status = to
	c.UpdatedAt = at
	if approvedBy != nil {
		c.ApprovedBy = approvedBy
		c.ApprovedAt = &at
	}
	return nil
}

func (r *fakeClientRepo) UpdateSecret(_ context.Context, id, secretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.SecretHash = secretHash
	return nil
}

func (r *fakeClientRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastUsedAt = &at
	return nil
}

func (r *fakeClientRepo) IncrementUsage(_ context.Context, id string, now time.Time, period time.Duration) (domain.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return domain.Usage{}, repository.ErrNotFound
	}
	if !c.ResetDate.After(now) {
		c.UsageCount = 0
		c.ResetDate = now.Add(period)
	}
	usage := domain.Usage{Count: c.UsageCount, Quota: c.UsageQuota, ResetDate: c.ResetDate}
	if usage.Exhausted() {
		usage.Rejected = true
		return usage, nil
	}
	c.UsageCount++
	c.LastUsedAt = &now
	usage.Count = c.UsageCount
	return usage, nil
}

// fakeTokenRepo is an in-memory TokenRepository keyed by hash
type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: map[string]*domain.Token{}}
}

func (r *fakeTokenRepo) Create(_ context.Context, token *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[token.TokenHash]; exists {
		return repository.ErrDuplicateToken
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	cp := *token
	r.tokens[token.TokenHash] = &cp
	return nil
}

func (r *fakeTokenRepo) GetByHash(_ context.Context, tokenHash string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTokenRepo) Revoke(_ context.Context, tokenHash string, kind domain.TokenKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.Kind != kind {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (r *fakeTokenRepo) Consume(_ context.Context, tokenHash string, kind domain.TokenKind, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.Kind != kind || !t.Usable(now) {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (r *fakeTokenRepo) revokeWhere(match func(t *domain.Token) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if !t.IsRevoked && match(t) {
			t.IsRevoked = true
			n++
		}
	}
	return n
}

func (r *fakeTokenRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	return r.revokeWhere(func(t *domain.Token) bool { return t.UserID == userID }), nil
}

func (r *fakeTokenRepo) RevokeAllForClient(_ context.Context, clientID string) (int64, error) {
	return r.revokeWhere(func(t *domain.Token) bool { return t.ClientID != nil && *t.ClientID == clientID }), nil
}

func (r *fakeTokenRepo) RevokeExpired(_ context.Context, now time.Time) (int64, error) {
	return r.revokeWhere(func(t *domain.Token) bool { return !t.ExpiresAt.After(now) }), nil
}

func (r *fakeTokenRepo) DeleteRevokedOrExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, t := range r.tokens {
		if t.IsRevoked || !t.ExpiresAt.After(now) {
			delete(r.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) count(kind domain.TokenKind, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.Kind == kind && t.UserID == userID {
			n++
		}
	}
	return n
}

// fakeBlacklist is an in-memory TokenBlacklist
type fakeBlacklist struct {
	mu  sync.Mutex
	ids map[string]time.Duration
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{ids: map[string]time.Duration{}}
}

func (b *fakeBlacklist) Add(_ context.Context, tokenID string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[tokenID] = ttl
	return nil
}

func (b *fakeBlacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.ids[tokenID]
	return ok, nil
}

// fakeNotifier records sent notifications
type fakeNotifier struct {
	mu      sync.Mutex
	welcome []string
	status  []domain.ClientStatus
}

func (n *fakeNotifier) SendWelcome(_ context.Context, email string, _ *domain.Client) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcome = append(n.welcome, email)
	return nil
}

func (n *fakeNotifier) SendClientStatusChanged(_ context.Context, _ string, client *domain.Client) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = append(n.status, client.Status)
	return nil
}

func (n *fakeNotifier) welcomeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.welcome)
}

func (n *fakeNotifier) statuses() []domain.ClientStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ClientStatus(nil), n.status...)
}
