package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	secret = []byte(strings.Repeat("s", 32))
	caller = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func testConfig() Config {
	return Config{Secret: secret, Issuer: "swapd-test", Audience: "swapd", Leeway: time.Second}
}

func TestIssueAndVerify(t *testing.T) {
	verifier, err := NewVerifier(testConfig())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	token, err := Issue(testConfig(), caller, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != caller {
		t.Fatalf("expected %s, got %s", caller.Hex(), got.Hex())
	}

	req := httptest.NewRequest("GET", "/v1/balances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if got, err := verifier.Authenticate(req); err != nil || got != caller {
		t.Fatalf("authenticate: %s %v", got.Hex(), err)
	}
}

func TestVerifyRejections(t *testing.T) {
	verifier, err := NewVerifier(testConfig())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	now := time.Now()
	other := testConfig()
	other.Issuer = "someone-else"
	wrongAudience := testConfig()
	wrongAudience.Audience = "other"
	wrongSecret := testConfig()
	wrongSecret.Secret = []byte(strings.Repeat("x", 32))

	expired, _ := Issue(testConfig(), caller, time.Minute, now.Add(-time.Hour))
	badIssuer, _ := Issue(other, caller, time.Minute, now)
	badAudience, _ := Issue(wrongAudience, caller, time.Minute, now)
	badSignature, _ := Issue(wrongSecret, caller, time.Minute, now)
	zeroSubject, _ := Issue(testConfig(), common.Address{}, time.Minute, now)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  caller.Hex(),
		Issuer:   "swapd-test",
		Audience: jwt.ClaimStrings{"swapd"},
	}).SignedString(secret)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":       expired,
		"issuer":        badIssuer,
		"audience":      badAudience,
		"signature":     badSignature,
		"zero subject":  zeroSubject,
		"no expiry":     noExpiry,
		"none alg":      none,
		"garbage token": "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := verifier.Verify(token); err == nil {
				t.Fatalf("expected %s token to be rejected", name)
			}
		})
	}
	if _, err := verifier.Verify(zeroSubject); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	verifier, _ := NewVerifier(testConfig())
	req := httptest.NewRequest("GET", "/", nil)
	if _, err := verifier.Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewVerifier(Config{Secret: []byte("short")}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if _, err := Issue(Config{Secret: []byte("short")}, caller, time.Minute, time.Now()); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatalf("expected no caller")
	}
	ctx := WithCaller(context.Background(), caller)
	if got, ok := CallerFromContext(ctx); !ok || got != caller {
		t.Fatalf("unexpected caller %s", got.Hex())
	}
	if BearerToken("Bearer abc") != "abc" || BearerToken("Token abc") != "" || BearerToken("") != "" {
		t.Fatalf("bearer token parsing mismatch")
	}
}
