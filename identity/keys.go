package identity

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves the public key an assertion was signed with.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Refresher is implemented by key sources that can reload their key set.
// The verifier calls Refresh once when a signature fails against a cached
// key, which covers provider key rotation under an unchanged kid.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StaticKeys is a pinned kid to public key map.
type StaticKeys map[string]crypto.PublicKey

// PublicKey returns the pinned key for kid.
func (s StaticKeys) PublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// ParsePublicKeyPEM decodes a PEM encoded RSA, ECDSA or Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return nil, errors.New("identity: unsupported or malformed public key PEM")
}

// NewStaticKeysFromPEM builds a StaticKeys map from kid to PEM bytes.
func NewStaticKeysFromPEM(pems map[string][]byte) (StaticKeys, error) {
	keys := make(StaticKeys, len(pems))
	for kid, data := range pems {
		if kid == "" {
			return nil, errors.New("identity: empty kid")
		}
		key, err := ParsePublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("identity: key %q: %w", kid, err)
		}
		keys[kid] = key
	}
	return keys, nil
}
