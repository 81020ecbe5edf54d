package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified content of an assertion.
type Identity struct {
	Subject       string
	Issuer        string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	HostedDomain  string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

type assertionClaims struct {
	Email         string       `json:"email,omitempty"`
	EmailVerified flexibleBool `json:"email_verified,omitempty"`
	Name          string       `json:"name,omitempty"`
	Picture       string       `json:"picture,omitempty"`
	HostedDomain  string       `json:"hd,omitempty"`
	jwt.RegisteredClaims
}

func (c *assertionClaims) identity() Identity {
	id := Identity{
		Subject:       c.Subject,
		Issuer:        c.Issuer,
		Email:         c.Email,
		EmailVerified: bool(c.EmailVerified),
		Name:          c.Name,
		Picture:       c.Picture,
		HostedDomain:  c.HostedDomain,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// flexibleBool accepts both JSON booleans and the quoted "true"/"false"
// strings some providers emit for email_verified.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("email_verified: %w", err)
		}
		*b = flexibleBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = flexibleBool(v)
	return nil
}
