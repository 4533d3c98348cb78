package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tier identifies how long values survive.
type Tier string

const (
	// TierEphemeral values live for a single browsing session.
	TierEphemeral Tier = "ephemeral"
	// TierDurable values survive restarts.
	TierDurable Tier = "durable"
)

const (
	KeyCart     = "cart"
	KeyOrders   = "orders"
	KeyDeviceID = "deviceId"
)

// Store is the key-value contract every persistence backend satisfies.
// Get reports found=false for missing keys rather than an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Tiers bundles the two stores the engine needs.
type Tiers struct {
	Ephemeral Store
	Durable   Store
}

func (t Tiers) Validate() error {
	if t.Ephemeral == nil {
		return fmt.Errorf("%s store required", TierEphemeral)
	}
	if t.Durable == nil {
		return fmt.Errorf("%s store required", TierDurable)
	}
	return nil
}

// GetJSON decodes the value at key into dst. It returns false and leaves dst
// untouched when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
