package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// record is one entry of the localUsers map.
type record struct {
	Username    string    `json:"username"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Nickname    string    `json:"nickname"`
	DisplayName string    `json:"displayName"`
	Salt        string    `json:"salt"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"createdAt"`
}

func loadRecords(ctx context.Context, kv KV) (map[string]record, error) {
	raw, ok, err := kv.Get(ctx, KeyUsers)
	if err != nil {
		return nil, err
	}
	users := make(map[string]record)
	if !ok || raw == "" {
		return users, nil
	}
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", KeyUsers, err)
	}
	return users, nil
}

func saveRecords(ctx context.Context, kv KV, users map[string]record) error {
	data, err := json.Marshal(users)
	if err != nil {
		return err
	}
	return kv.Set(ctx, KeyUsers, string(data))
}

// blocklist is the set of usernames that were ever deleted locally. It only
// grows.
type blocklist map[string]struct{}

// loadBlocklist fails on an unreadable entry instead of treating it as
// empty; an empty blocklist would let deleted usernames be re-created.
func loadBlocklist(ctx context.Context, kv KV) (blocklist, error) {
	raw, ok, err := kv.Get(ctx, KeyDeleted)
	if err != nil {
		return nil, err
	}
	set := make(blocklist)
	if !ok || raw == "" {
		return set, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", KeyDeleted, err)
	}
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			set[name] = struct{}{}
		}
	}
	return set, nil
}

func (b blocklist) contains(username string) bool {
	_, ok := b[username]
	return ok
}

func (b blocklist) save(ctx context.Context, kv KV) error {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return kv.Set(ctx, KeyDeleted, string(data))
}
