// Package kv is the persistent key/value layer. Every value is a JSON string
// and every component of the platform reads and writes through a Store.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is a flat key to string map with get/set/remove semantics.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// GetJSON decodes the value at key into v. It reports false when the key is
// absent, leaving v untouched.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetBool reads a "true"/"false" flag. Missing keys read as false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return ok && raw == "true", nil
}

// SetBool writes a "true"/"false" flag.
func SetBool(ctx context.Context, s Store, key string, v bool) error {
	val := "false"
	if v {
		val = "true"
	}
	if err := s.Set(ctx, key, val); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
