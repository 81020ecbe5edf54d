package identity

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAssertion wraps every rejection of an assertion.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	// ErrKeysUnavailable reports that verification keys could not be fetched.
	ErrKeysUnavailable = errors.New("identity keys unavailable")
	// ErrUnknownKey reports a kid absent from the key source.
	ErrUnknownKey = errors.New("unknown signing key")
)

// DefaultAlgorithms are the signing algorithms accepted when Config leaves
// AllowedAlgorithms empty.
var DefaultAlgorithms = []string{"RS256", "ES256"}

// Config controls assertion validation.
type Config struct {
	// Issuers is the allow list of accepted iss values. Required.
	Issuers           []string
	AllowedAlgorithms []string
	Leeway            time.Duration
	// MaxFutureIAT rejects assertions issued further in the future than
	// this, on top of Leeway. Zero disables the extra check.
	MaxFutureIAT time.Duration
}

// Verifier validates signed identity assertions against a KeySource.
type Verifier struct {
	config Config
	keys   KeySource
	now    func() time.Time
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(cfg Config, keys KeySource) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("identity: key source is required")
	}
	if len(cfg.Issuers) == 0 {
		return nil, errors.New("identity: at least one issuer is required")
	}
	for _, iss := range cfg.Issuers {
		if strings.TrimSpace(iss) == "" {
			return nil, errors.New("identity: empty issuer in allow list")
		}
	}
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = append([]string(nil), DefaultAlgorithms...)
	}
	for _, alg := range cfg.AllowedAlgorithms {
		method := jwt.GetSigningMethod(alg)
		if method == nil {
			return nil, fmt.Errorf("identity: unknown signing algorithm %q", alg)
		}
		if strings.HasPrefix(alg, "HS") || alg == "none" {
			return nil, fmt.Errorf("identity: algorithm %q is not allowed for assertions", alg)
		}
	}
	if cfg.Leeway < 0 || cfg.MaxFutureIAT < 0 {
		return nil, errors.New("identity: leeway and max future iat must be non-negative")
	}
	return &Verifier{config: cfg, keys: keys, now: time.Now}, nil
}

// WithClock replaces the verifier clock. Intended for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the signature and claims of assertion and returns the
// asserted identity. The audience must equal expectedAudience.
func (v *Verifier) Verify(ctx context.Context, assertion, expectedAudience string) (Identity, error) {
	if expectedAudience == "" {
		return Identity{}, fmt.Errorf("%w: no expected audience configured", ErrInvalidAssertion)
	}
	if assertion == "" {
		return Identity{}, fmt.Errorf("%w: empty assertion", ErrInvalidAssertion)
	}

	claims, err := v.parse(ctx, assertion, expectedAudience)
	if err != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		if refresher, ok := v.keys.(Refresher); ok {
			// A failed refresh leaves the original signature failure in place.
			if rerr := refresher.Refresh(ctx); rerr == nil {
				claims, err = v.parse(ctx, assertion, expectedAudience)
			}
		}
	}
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidAssertion)
	}
	if !slices.Contains(v.config.Issuers, claims.Issuer) {
		return Identity{}, fmt.Errorf("%w: issuer %q not allowed", ErrInvalidAssertion, claims.Issuer)
	}
	if claims.IssuedAt != nil && v.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(v.now().Add(v.config.MaxFutureIAT)) {
			return Identity{}, fmt.Errorf("%w: iat too far in the future", ErrInvalidAssertion)
		}
	}

	return claims.identity(), nil
}

func (v *Verifier) parse(ctx context.Context, assertion, audience string) (*assertionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.config.AllowedAlgorithms),
		jwt.WithLeeway(v.config.Leeway),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)

	var keyErr error
	token, err := parser.ParseWithClaims(assertion, &assertionClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		var key crypto.PublicKey
		key, keyErr = v.keys.PublicKey(ctx, kid)
		if keyErr != nil {
			return nil, keyErr
		}
		return key, nil
	})
	if keyErr != nil && errors.Is(keyErr, ErrKeysUnavailable) {
		return nil, keyErr
	}
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*assertionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
