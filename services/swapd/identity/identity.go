// Package identity authenticates swap callers with HMAC-signed JWTs whose
// subject is the caller's hex address.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"fixedswap/native/swap"
)

const minSecretLength = 32

var (
	// ErrMissingToken is returned when the request carries no bearer token.
	ErrMissingToken = errors.New("identity: missing bearer token")
	// ErrInvalidSubject is returned when the token subject is not an address.
	ErrInvalidSubject = errors.New("identity: subject must be a non-zero hex address")
)

// Config describes how caller tokens are verified and issued.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates caller tokens.
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
}

// NewVerifier constructs a verifier. The secret must be at least 32 bytes.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("identity: hmac secret must be at least %d bytes", minSecretLength)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if strings.TrimSpace(cfg.Issuer) != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if strings.TrimSpace(cfg.Audience) != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses token and returns the caller address in its subject.
func (v *Verifier) Verify(token string) (common.Address, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, errors.New("identity: token invalid")
	}
	caller, ok := swap.ParseAddress(claims.Subject)
	if !ok {
		return common.Address{}, ErrInvalidSubject
	}
	return caller, nil
}

// Authenticate extracts and verifies the bearer token on r.
func (v *Verifier) Authenticate(r *http.Request) (common.Address, error) {
	token := BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return common.Address{}, ErrMissingToken
	}
	return v.Verify(token)
}

// Issue signs a caller token for subject valid for ttl.
func Issue(cfg Config, subject common.Address, ttl time.Duration, now time.Time) (string, error) {
	if len(cfg.Secret) < minSecretLength {
		return "", fmt.Errorf("identity: hmac secret must be at least %d bytes", minSecretLength)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

type callerContextKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(common.Address)
	return caller, ok
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(trimmed, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
