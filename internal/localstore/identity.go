package localstore

import (
	"context"
	"sync"

	"portal/internal/session"
)

// Identity is the persisted session of the command-line client.
type Identity struct {
	mu sync.Mutex
	kv KV
}

func NewIdentity(kv KV) *Identity {
	return &Identity{kv: kv}
}

func (i *Identity) Establish(ctx context.Context, id session.Identity) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.kv.Set(ctx, KeyCurrentUser, id.Username); err != nil {
		return err
	}
	if err := i.setFlag(ctx, KeyIsAdmin, id.IsAdmin); err != nil {
		return err
	}
	if err := i.setFlag(ctx, KeyShowWelcome, id.ShowWelcome); err != nil {
		return err
	}
	return i.kv.Set(ctx, KeyOrigin, id.Origin)
}

func (i *Identity) Current(ctx context.Context) (session.Identity, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.read(ctx)
}

func (i *Identity) ReadIdentity(ctx context.Context) (session.Identity, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id, err := i.read(ctx)
	if err != nil || !id.ShowWelcome {
		return id, err
	}
	if err := i.kv.Delete(ctx, KeyShowWelcome); err != nil {
		return session.Identity{}, err
	}
	return id, nil
}

func (i *Identity) Destroy(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, key := range []string{KeyCurrentUser, KeyIsAdmin, KeyShowWelcome, KeyOrigin} {
		if err := i.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (i *Identity) read(ctx context.Context) (session.Identity, error) {
	username, ok, err := i.kv.Get(ctx, KeyCurrentUser)
	if err != nil || !ok || username == "" {
		return session.Identity{}, err
	}
	isAdmin, err := i.flag(ctx, KeyIsAdmin)
	if err != nil {
		return session.Identity{}, err
	}
	welcome, err := i.flag(ctx, KeyShowWelcome)
	if err != nil {
		return session.Identity{}, err
	}
	origin, _, err := i.kv.Get(ctx, KeyOrigin)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{
		Username:    username,
		IsAdmin:     isAdmin,
		ShowWelcome: welcome,
		Origin:      origin,
	}, nil
}

func (i *Identity) flag(ctx context.Context, key string) (bool, error) {
	v, _, err := i.kv.Get(ctx, key)
	return v == "1", err
}

func (i *Identity) setFlag(ctx context.Context, key string, on bool) error {
	if !on {
		return i.kv.Delete(ctx, key)
	}
	return i.kv.Set(ctx, key, "1")
}
