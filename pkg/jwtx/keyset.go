package jwtx

import (
	"errors"
	"sync"
	"time"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeyResolver finds the verification key for a token's kid header.
type KeyResolver interface {
	Key(kid string) (any, error)
}

// KeySet holds the public verification keys of one issuer in memory.
// It's safe for concurrent use: the refresher swaps the whole set while
// request goroutines verify against it.
type KeySet struct {
	mu        sync.RWMutex
	pub       map[string]any // kid: *rsa.PublicKey | ed25519.PublicKey | *ecdsa.PublicKey
	refreshed time.Time
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{pub: make(map[string]any)}
}

// Key returns the public key for kid.
func (k *KeySet) Key(kid string) (any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// ResetFromJWKS replaces all keys. Keys without a kid or with an unsupported
// type are skipped; it fails only when nothing usable remains, leaving the
// previous keys in place.
func (k *KeySet) ResetFromJWKS(jwks JWKS) error {
	next := make(map[string]any, len(jwks.Keys))
	var firstErr error
	for _, j := range jwks.Keys {
		if j.Kid == "" || (j.Use != "" && j.Use != "sig") {
			continue
		}
		key, err := j.PublicKey()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		next[j.Kid] = key
	}
	if len(next) == 0 {
		if firstErr != nil {
			return firstErr
		}
		return ErrNoKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.pub = next
	k.refreshed = time.Now()
	return nil
}

// Len reports how many keys are loaded.
func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub)
}

// RefreshedAt is the time of the last successful ResetFromJWKS.
func (k *KeySet) RefreshedAt() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.refreshed
}

// StaticKey resolves every kid to the same key. The mock provider uses it
// for its HMAC secret.
type StaticKey struct {
	Secret any
}

func (s StaticKey) Key(string) (any, error) {
	if s.Secret == nil {
		return nil, ErrNoKey
	}
	return s.Secret, nil
}
