package storage

import (
	"context"

	"portal/internal/models"
)

// Store names recorded as a session's origin.
const (
	PrimaryName = "primary"
	LocalName   = "local"
	RemoteName  = "remote"
)

// AccountStore is the account capability shared by the authoritative store,
// the local fallback store and the remote client store. Errors are
// classified with the kinds in internal/common.
type AccountStore interface {
	Name() string

	Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error)
	Login(ctx context.Context, username, password string) (*models.Account, error)
	// Lookup returns the active account with the given username.
	Lookup(ctx context.Context, username string) (*models.Account, error)
	ListUsers(ctx context.Context) ([]models.AccountView, error)
	SoftDelete(ctx context.Context, username string) error
}
