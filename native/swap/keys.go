package swap

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	authoritySeed = []byte("state")
	seedSeparator = []byte{0}
)

// DeriveAuthority returns the address that owns the pair's vaults. It is a
// hash of the pair identity, so no key exists for it and only the engine's
// capability can debit the vaults.
func DeriveAuthority(pair PairKey) common.Address {
	digest := ethcrypto.Keccak256(authoritySeed, []byte(pair.X), seedSeparator, []byte(pair.Y))
	return common.BytesToAddress(digest[12:])
}

// ParseAddress accepts a hex address with or without the 0x prefix.
func ParseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}
