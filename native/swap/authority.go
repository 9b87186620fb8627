package swap

import (
	"github.com/ethereum/go-ethereum/common"
)

// Authority is the party a custody transfer is made on behalf of. The only
// implementations are Signer and *Capability.
type Authority interface {
	Address() common.Address
	String() string
	capability() bool
}

// Signer is an external party whose credential the host has already
// verified.
type Signer common.Address

func (s Signer) Address() common.Address { return common.Address(s) }
func (s Signer) String() string          { return "signer:" + common.Address(s).Hex() }
func (Signer) capability() bool          { return false }

// Capability lets the engine move funds out of a pair's vaults. Values can
// only be minted inside this package; a zero Capability authorises nothing.
type Capability struct {
	authority common.Address
	issued    bool
}

func newCapability(pair PairKey) *Capability {
	return &Capability{authority: DeriveAuthority(pair), issued: true}
}

func (c *Capability) Address() common.Address {
	if c == nil {
		return common.Address{}
	}
	return c.authority
}

func (c *Capability) String() string { return "pair:" + c.Address().Hex() }

func (c *Capability) capability() bool { return c != nil && c.issued }

// Authorize decides whether auth may debit the record owned by owner. Vault
// records require an issued capability for the same authority; every other
// record requires a signer matching the owner.
func Authorize(auth Authority, owner common.Address, vault bool) error {
	if auth == nil {
		return ErrTransferUnauthorized
	}
	if vault {
		if !auth.capability() || auth.Address() != owner {
			return ErrTransferUnauthorized
		}
		return nil
	}
	if auth.capability() || auth.Address() != owner {
		return ErrTransferUnauthorized
	}
	return nil
}
