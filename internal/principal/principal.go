// Package principal reads and creates the accounts owned by the relational
// record store. The gate core only ever resolves principals by id or
// username; everything else about accounts is out of its hands.
package principal

import (
	"context"

	"gatehouse/internal/authz"
)

// Principal is an authenticated identity. The email doubles as the session
// marker key.
type Principal struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	Role         authz.Role
}

// Reader resolves principals during credential validation and login.
type Reader interface {
	ByID(ctx context.Context, id int64) (*Principal, error)
	ByUsername(ctx context.Context, username string) (*Principal, error)
}

// Store adds account creation for registration.
type Store interface {
	Reader
	Create(ctx context.Context, p *Principal) (*Principal, error)
}
