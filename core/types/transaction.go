package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Instruction is a single program invocation inside a transaction. Program is
// the 20-byte address of the invoked program, Op names the operation and
// Params carries the JSON-encoded operation arguments.
type Instruction struct {
	Program [20]byte        `json:"program"`
	Op      string          `json:"op"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Transaction bundles an ordered instruction sequence signed by a single
// originating account. The signer authenticates every instruction in the
// sequence; programs that need a stronger guarantee about who invoked them
// inspect the instruction list itself rather than the outer signature.
type Transaction struct {
	Nonce        uint64        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`

	// Signature
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash returns the digest the originating account signs.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Nonce        uint64
		Instructions []Instruction
	}{tx.Nonce, tx.Instructions}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign signs the transaction digest with the supplied key.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// From recovers the signer address. The result is cached after the first
// successful recovery.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errors.New("transaction is unsigned")
	}
	// R, S and V arrive from untrusted input; reject values that cannot fit
	// the 65-byte compact signature before any slicing happens.
	rBytes, sBytes := tx.R.Bytes(), tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, errors.New("transaction signature component out of range")
	}
	if tx.R.Sign() < 0 || tx.S.Sign() < 0 || !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 30 {
		return nil, errors.New("transaction signature component out of range")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
