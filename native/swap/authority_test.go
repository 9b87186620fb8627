package swap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAuthorize(t *testing.T) {
	vault := DeriveAuthority(testPair)
	tests := []struct {
		name    string
		auth    Authority
		owner   common.Address
		isVault bool
		allowed bool
	}{
		{name: "owner signs own record", auth: Signer(testTrader), owner: testTrader, allowed: true},
		{name: "other signer", auth: Signer(testAdmin), owner: testTrader},
		{name: "capability on vault", auth: newCapability(testPair), owner: vault, isVault: true, allowed: true},
		{name: "capability for other pair", auth: newCapability(PairKey{X: "AAA", Y: "BBB"}), owner: vault, isVault: true},
		{name: "signer posing as vault", auth: Signer(vault), owner: vault, isVault: true},
		{name: "forged zero capability", auth: &Capability{}, owner: common.Address{}, isVault: true},
		{name: "nil capability", auth: (*Capability)(nil), owner: vault, isVault: true},
		{name: "capability on user record", auth: newCapability(testPair), owner: vault},
		{name: "nil authority", auth: nil, owner: testTrader},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.auth, tc.owner, tc.isVault)
			if tc.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrTransferUnauthorized) {
				t.Fatalf("expected ErrTransferUnauthorized, got %v", err)
			}
		})
	}
}

func TestDeriveAuthorityStable(t *testing.T) {
	first := DeriveAuthority(testPair)
	second := DeriveAuthority(PairKey{X: "XTK", Y: "YTK"})
	if first != second {
		t.Fatalf("derivation not deterministic")
	}
	if DeriveAuthority(PairKey{X: "AB", Y: "C"}) == DeriveAuthority(PairKey{X: "A", Y: "BC"}) {
		t.Fatalf("asset boundary must be part of the seed")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err   error
		class Class
		code  string
	}{
		{ErrUnauthorized, ClassAuthorization, "unauthorized"},
		{fmt.Errorf("wrapped: %w", ErrOutputTooSmall), ClassGuard, "output_too_small"},
		{ErrInputTooLarge, ClassGuard, "input_too_large"},
		{ErrUserInsufficientBalance, ClassGuard, "user_insufficient_balance"},
		{ErrExpired, ClassGuard, "expired"},
		{ErrArithmeticOverflow, ClassArithmetic, "arithmetic_overflow"},
		{ErrPairNotInitialized, ClassState, "pair_not_initialized"},
		{ErrInvalidSpread, ClassInvalid, "invalid_spread"},
		{errors.New("disk on fire"), ClassInternal, "internal"},
		{nil, ClassInternal, "ok"},
	}
	for _, tc := range tests {
		if got := Classify(tc.err); got != tc.class {
			t.Fatalf("%v: expected class %s, got %s", tc.err, tc.class, got)
		}
		if got := Code(tc.err); got != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, got)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	pair, err := NewPairKey(" xtk ", "ytk")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if pair != testPair {
		t.Fatalf("expected %s, got %s", testPair, pair)
	}
	if _, err := NewPairKey("x/y", "z"); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	if dir, err := ParseDirection("Y_TO_X"); err != nil || dir != YToX {
		t.Fatalf("expected YToX, got %v %v", dir, err)
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
	if _, ok := ParseAddress("0x0000000000000000000000000000000000000000"); ok {
		t.Fatalf("zero address must be rejected")
	}
	if addr, ok := ParseAddress(testTrader.Hex()); !ok || addr != testTrader {
		t.Fatalf("failed to parse %s", testTrader.Hex())
	}
}
