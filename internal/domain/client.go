package domain

import "time"

// ClientStatus is the lifecycle state of an API credential.
type ClientStatus string

const (
	ClientStatusPending   ClientStatus = "pending"
	ClientStatusActive    ClientStatus = "active"
	ClientStatusSuspended ClientStatus = "suspended"
	ClientStatusRevoked   ClientStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusPending, ClientStatusActive, ClientStatusSuspended, ClientStatusRevoked:
		return true
	}
	return false
}

// clientTransitions lists the allowed target states per source state.
// Revoked has no outgoing edges.
var clientTransitions = map[ClientStatus][]ClientStatus{
	ClientStatusPending:   {ClientStatusActive, ClientStatusRevoked},
	ClientStatusActive:    {ClientStatusSuspended, ClientStatusRevoked},
	ClientStatusSuspended: {ClientStatusActive, ClientStatusRevoked},
}

// CanTransition reports whether a client may move from one status to another.
func CanTransition(from, to ClientStatus) bool {
	for _, s := range clientTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Client represents an API credential owned by a user
type Client struct {
	ID          string       `json:"id" db:"id"`
	UserID      string       `json:"user_id" db:"user_id"`
	Name        string       `json:"name" db:"name"`
	Description *string      `json:"description,omitempty" db:"description"`
	ClientID    string       `json:"client_id" db:"client_id"`
	SecretHash  string       `json:"-" db:"secret_hash"`
	Status      ClientStatus `json:"status" db:"status"`
	UsageQuota  int          `json:"usage_quota" db:"usage_quota"`
	UsageCount  int          `json:"usage_count" db:"usage_count"`
	ResetDate   time.Time    `json:"reset_date" db:"reset_date"`
	ApprovedBy  *string      `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty" db:"approved_at"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the client may authenticate.
func (c *Client) IsActive() bool {
	return c.Status == ClientStatusActive
}

// Ref returns the session binding for c. A nil client yields the zero ClientRef.
func (c *Client) Ref() ClientRef {
	if c == nil {
		return ClientRef{}
	}
	return ClientRef{ID: c.ID, ClientID: c.ClientID}
}

// ClientRef binds a session to a client. ID is the row id tokens are stored against,
// ClientID the public identifier that goes into token claims.
type ClientRef struct {
	ID       string
	ClientID string
}

// Usage is the result of offering one request to a client's quota.
type Usage struct {
	Count     int
	Quota     int
	ResetDate time.Time
	// Rejected is set when the quota was already spent and the request was not counted.
	Rejected bool
}

// Exhausted reports whether the current period has no room left. A zero quota is unlimited.
func (u Usage) Exhausted() bool {
	return u.Quota > 0 && u.Count >= u.Quota
}

// Exceeded reports whether the offered request was turned away.
func (u Usage) Exceeded() bool {
	return u.Rejected
}
