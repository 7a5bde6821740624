package types

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"rewardnet/crypto"
)

func TestTransactionSignAndRecover(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tx := &Transaction{
		Nonce: 7,
		Instructions: []Instruction{
			{Program: [20]byte{19: 0x22}, Op: "report_activity", Params: json.RawMessage(`{"amount":1}`)},
		},
	}
	if _, err := tx.From(); err == nil {
		t.Fatalf("expected unsigned transaction to fail recovery")
	}

	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := tx.From()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !bytes.Equal(from, key.PubKey().Address().Bytes()) {
		t.Fatalf("recovered signer does not match signing key")
	}

	// Cached recovery returns the same address.
	again, err := tx.From()
	if err != nil {
		t.Fatalf("recover again: %v", err)
	}
	if !bytes.Equal(from, again) {
		t.Fatalf("cached recovery diverged")
	}
}

func TestTransactionRejectsMalformedSignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sign := func(t *testing.T) *Transaction {
		t.Helper()
		tx := &Transaction{
			Nonce: 3,
			Instructions: []Instruction{
				{Program: [20]byte{19: 0x22}, Op: "report_activity", Params: json.RawMessage(`{"amount":1}`)},
			},
		}
		if err := tx.Sign(key.PrivateKey); err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tx
	}

	// A 257-bit value cannot fit a 32-byte signature component. Recovery must
	// fail with an error rather than panic on values taken off the wire.
	cases := map[string]func(tx *Transaction){
		"oversized r": func(tx *Transaction) { tx.R = new(big.Int).Lsh(big.NewInt(1), 256) },
		"oversized s": func(tx *Transaction) { tx.S = new(big.Int).Lsh(big.NewInt(1), 256) },
		"negative r":  func(tx *Transaction) { tx.R = big.NewInt(-1) },
		"v below 27":  func(tx *Transaction) { tx.V = big.NewInt(1) },
		"huge v":      func(tx *Transaction) { tx.V = new(big.Int).Lsh(big.NewInt(1), 64) },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			tx := sign(t)
			corrupt(tx)
			if _, err := tx.From(); err == nil {
				t.Fatalf("expected malformed signature to fail recovery")
			}
		})
	}
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := &Transaction{
		Nonce: 1,
		Instructions: []Instruction{
			{Program: [20]byte{19: 0x22}, Op: "report_activity", Params: json.RawMessage(`{"amount":3}`)},
		},
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}

	encoded, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded := new(Transaction)
	if err := json.Unmarshal(encoded, decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The signature must survive the wire format so the receiving side can
	// recover the same signer.
	from, err := decoded.From()
	if err != nil {
		t.Fatalf("recover decoded: %v", err)
	}
	if !bytes.Equal(from, key.PubKey().Address().Bytes()) {
		t.Fatalf("decoded transaction recovers a different signer")
	}
}

func TestTransactionHashCoversInstructions(t *testing.T) {
	tx := &Transaction{
		Nonce: 1,
		Instructions: []Instruction{
			{Program: [20]byte{19: 0x22}, Op: "report_activity"},
		},
	}
	h1, err := tx.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	tx.Instructions[0].Op = "create_reward_plan"
	h2, err := tx.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if bytes.Equal(h1, h2) {
		t.Fatalf("expected hash to change with instruction contents")
	}
}
