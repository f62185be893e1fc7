package repository

import (
	"github.com/prperemyshlev/credential-service/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User   UserRepository
	Client ClientRepository
	Token  TokenRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres) *Repositories {
	return &Repositories{
		User:   NewUserRepository(db),
		Client: NewClientRepository(db),
		Token:  NewTokenRepository(db),
	}
}
