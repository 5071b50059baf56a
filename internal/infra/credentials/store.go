package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

// Store keeps the Gemini API key under the shared apiKey store key.
type Store struct {
	kv store.Backend
}

func NewStore(kv store.Backend) *Store {
	return &Store{kv: kv}
}

// GeminiAPIKey returns the configured key or "" when none is set.
func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	var key string
	err := s.kv.View(ctx, func(tx store.Tx) error {
		var err error
		key, err = readKey(ctx, tx)
		return err
	})
	return key, err
}

// APIKey satisfies the generation client's credential source. A missing key
// is reported as domain.ErrCredentialMissing.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	key, err := s.GeminiAPIKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", domain.ErrCredentialMissing
	}
	return key, nil
}

func (s *Store) SetGeminiAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("gemini api key is required")
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return s.kv.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, store.KeyAPIKey, raw)
	})
}

// SeedGeminiAPIKey stores key only when no key is configured yet.
func (s *Store) SeedGeminiAPIKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return false, err
	}
	seeded := false
	err = s.kv.Update(ctx, func(tx store.Tx) error {
		seeded = false
		existing, err := readKey(ctx, tx)
		if err != nil || existing != "" {
			return err
		}
		seeded = true
		return tx.Put(ctx, store.KeyAPIKey, raw)
	})
	return seeded, err
}

func (s *Store) ClearGeminiAPIKey(ctx context.Context) error {
	return s.kv.Update(ctx, func(tx store.Tx) error {
		return tx.Delete(ctx, store.KeyAPIKey)
	})
}

func readKey(ctx context.Context, tx store.Tx) (string, error) {
	raw, err := tx.Get(ctx, store.KeyAPIKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}
