package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrCorruptCredential = errors.New("storage: stored credential cannot be opened")

// CredentialStore persists the session token under KeyToken. With a key
// the token is sealed with secretbox before it reaches the Store.
type CredentialStore struct {
	store Store
	key   *[32]byte
}

// NewCredentialStore returns a store that seals tokens when key is 32 bytes
// long and stores them in clear when key is empty.
func NewCredentialStore(store Store, key []byte) (*CredentialStore, error) {
	cs := &CredentialStore{store: store}
	switch len(key) {
	case 0:
	case 32:
		cs.key = new([32]byte)
		copy(cs.key[:], key)
	default:
		return nil, fmt.Errorf("storage: credential key must be 32 bytes, got %d", len(key))
	}
	return cs, nil
}

// Load returns the stored token, or "" when none is stored.
func (c *CredentialStore) Load(ctx context.Context) (string, error) {
	v, err := c.store.Get(ctx, KeyToken)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if c.key == nil {
		return v, nil
	}
	return c.open(v)
}

func (c *CredentialStore) Save(ctx context.Context, token string) error {
	if c.key == nil {
		return c.store.Set(ctx, KeyToken, token)
	}
	sealed, err := c.seal(token)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, KeyToken, sealed)
}

func (c *CredentialStore) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, KeyToken)
}

func (c *CredentialStore) seal(token string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("storage: nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, c.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (c *CredentialStore) open(v string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorruptCredential
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, c.key)
	if !ok {
		return "", ErrCorruptCredential
	}
	return string(plain), nil
}
