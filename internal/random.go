package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"time"
)

// SessionID is the raw form of a server-side session identifier.
type SessionID [16]byte

// ResetToken is the raw form of a password-reset token.
type ResetToken [resetTokenSize]byte

const (
	resetTokenSize        = 32
	temporaryPasswordSize = 18
)

var (
	errInvalidSessionID  = errors.New("invalid session id")
	errInvalidResetToken = errors.New("invalid reset token")
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID rejects anything that is not the exact encoding produced by
// SessionID.String.
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID
	if base64.RawURLEncoding.DecodedLen(len(sessionID)) != len(sid) {
		return sid, errInvalidSessionID
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(sessionID)
	if err != nil || len(raw) != len(sid) {
		return sid, errInvalidSessionID
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewResetToken() (ResetToken, error) {
	var token ResetToken
	_, err := rand.Read(token[:])
	return token, err
}

func (t ResetToken) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// Hash returns the only form of the token that may be persisted.
func (t ResetToken) Hash() [32]byte {
	return sha256.Sum256(t[:])
}

func ParseResetToken(token string) (ResetToken, error) {
	var out ResetToken
	if base64.RawURLEncoding.DecodedLen(len(token)) != len(out) {
		return out, errInvalidResetToken
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != len(out) {
		return out, errInvalidResetToken
	}

	copy(out[:], raw)
	return out, nil
}

// NewTemporaryPassword returns a 144-bit random password rendered base64url.
func NewTemporaryPassword() (string, error) {
	var raw [temporaryPasswordSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// RandomDuration returns a uniformly distributed duration in [0, max).
func RandomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}
