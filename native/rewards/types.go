package rewards

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PlanID uniquely identifies a reward plan. It is computed as
// keccak256(admin || name), so any caller can recompute a plan's address from
// the pair without a directory lookup and two plans with the same
// (admin, name) cannot coexist.
type PlanID [32]byte

// DerivePlanID computes the deterministic address of the plan owned by admin
// under the given name.
func DerivePlanID(admin [20]byte, name string) PlanID {
	var id PlanID
	copy(id[:], ethcrypto.Keccak256(admin[:], []byte(name)))
	return id
}

// Plan captures the durable configuration for a reward plan. All fields are
// immutable after creation.
type Plan struct {
	ID            PlanID
	Admin         [20]byte
	Name          string
	Threshold     uint64
	AllowedCaller [20]byte
	AssetSymbol   string
	MetadataURI   string
}

// UsesPolicy describes the use allowance recorded on a plan asset's display
// metadata.
type UsesPolicy struct {
	Remaining uint64
	Total     uint64
}
