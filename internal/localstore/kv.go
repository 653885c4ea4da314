// Package localstore is the fallback account store. It keeps accounts, the
// deletion blocklist and the client identity as JSON strings in a small
// durable key/value store.
package localstore

import "context"

// Keys written to the KV.
const (
	KeyUsers        = "localUsers"
	KeyDeleted      = "localDeletedUsernames"
	KeyCurrentUser  = "localCurrentUser"
	KeyIsAdmin      = "localIsAdmin"
	KeyShowWelcome  = "localShowWelcome"
	KeyOrigin       = "localOrigin"
	KeyRemoteCookie = "remoteSession"
)

// KV is a durable string map. Set must be durable before it returns.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
