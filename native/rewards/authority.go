package rewards

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	authoritySeedPrefix = "module/rewards/authority/"
	programSeed         = "module/rewards/program"
)

// ProgramAddress is the fixed address under which the rewards engine itself is
// invoked inside a transaction's instruction sequence.
var ProgramAddress = deriveSeedAddress([]byte(programSeed))

// DeriveAuthorityAddress computes the plan-controlled authority address for a
// plan. The derivation is public: anyone can recompute it from the plan
// address, but no key material exists for the result. The address is
// registered as the plan asset's sole mint and burn authority at creation.
func DeriveAuthorityAddress(id PlanID) [20]byte {
	seed := make([]byte, len(authoritySeedPrefix)+len(id))
	copy(seed, authoritySeedPrefix)
	copy(seed[len(authoritySeedPrefix):], id[:])
	return deriveSeedAddress(seed)
}

func deriveSeedAddress(seed []byte) [20]byte {
	hash := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], hash[len(hash)-20:])
	return addr
}

// Authority is the signing capability presented to the asset ledger for mint
// and burn operations. Values can only be constructed inside this package, so
// external code cannot act as a plan authority even though the authority
// address itself is public. Authorities are never serialized.
type Authority struct {
	addr [20]byte
}

// Address returns the 20-byte address the ledger compares against the asset's
// registered mint authority.
func (a Authority) Address() [20]byte { return a.addr }

func planAuthority(id PlanID) Authority {
	return Authority{addr: DeriveAuthorityAddress(id)}
}
