package state

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"rewardnet/native/rewards"
	"rewardnet/storage"
)

// Manager provides keyed access to the engine's durable state: the token
// ledger, asset metadata records and the generic key-value space used by the
// plan registry. All keys are keccak-hashed before they reach the backing
// store. Writes are journaled so a surrounding processor can snapshot and
// revert an in-flight transaction.
//
// Manager is not safe for concurrent use; the processor serializes access.
type Manager struct {
	db      storage.Database
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	tokenPrefix    = []byte("token:")
	balancePrefix  = []byte("balance:")
	supplyPrefix   = []byte("supply:")
	metadataPrefix = []byte("metadata:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func supplyKey(symbol string) []byte {
	buf := make([]byte, len(supplyPrefix)+len(symbol))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func metadataKey(asset string) []byte {
	buf := make([]byte, len(metadataPrefix)+len(asset))
	copy(buf, metadataPrefix)
	copy(buf[len(metadataPrefix):], asset)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// --- journal ---

// Snapshot marks the current journal position. A later RevertToSnapshot with
// the returned value undoes every write performed in between.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot rolls state back to the given snapshot by restoring the
// previous value of every key written since.
func (m *Manager) RevertToSnapshot(snapshot int) error {
	if snapshot < 0 || snapshot > len(m.journal) {
		return fmt.Errorf("state: invalid snapshot %d", snapshot)
	}
	for i := len(m.journal) - 1; i >= snapshot; i-- {
		entry := m.journal[i]
		if entry.existed {
			if err := m.db.Put([]byte(entry.key), entry.prev); err != nil {
				return err
			}
		} else if err := m.db.Delete([]byte(entry.key)); err != nil {
			return err
		}
	}
	m.journal = m.journal[:snapshot]
	return nil
}

func (m *Manager) write(hashedKey, value []byte) error {
	prev, err := m.db.Get(hashedKey)
	if err != nil {
		return err
	}
	m.journal = append(m.journal, journalEntry{
		key:     string(hashedKey),
		prev:    prev,
		existed: prev != nil,
	})
	return m.db.Put(hashedKey, value)
}

// --- token ledger ---

// TokenMetadata records a registered asset and its sole mint/burn authority.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority []byte
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.db.Get(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores the metadata for a new asset. The mint authority is
// fixed at registration; no operation exists to change it afterwards.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8, mintAuthority []byte) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if len(mintAuthority) != 20 {
		return fmt.Errorf("token %s: mint authority must be 20 bytes", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	meta := &TokenMetadata{
		Symbol:        normalized,
		Name:          name,
		Decimals:      decimals,
		MintAuthority: append([]byte(nil), mintAuthority...),
	}
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.write(tokenMetadataKey(normalized), encoded)
}

// Token retrieves metadata for a registered asset.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(strings.ToUpper(strings.TrimSpace(symbol)))
}

// TokenExists reports whether the provided asset symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

// Balance retrieves an account's balance for the provided asset. Missing
// entries default to zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	data, err := m.db.Get(balanceKey(addr, strings.ToUpper(strings.TrimSpace(symbol))))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) setBalance(addr []byte, symbol string, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.write(balanceKey(addr, symbol), encoded)
}

// TokenSupply returns the total minted supply for the asset. Missing entries
// default to zero.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	data, err := m.db.Get(supplyKey(normalized))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, err
	}
	return total, nil
}

func (m *Manager) adjustTokenSupply(symbol string, delta *big.Int) error {
	current, err := m.TokenSupply(symbol)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(current, delta)
	if updated.Sign() < 0 {
		return fmt.Errorf("token %s supply underflow", symbol)
	}
	encoded, err := rlp.EncodeToBytes(updated)
	if err != nil {
		return err
	}
	return m.write(supplyKey(symbol), encoded)
}

func (m *Manager) authorize(meta *TokenMetadata, authority rewards.Authority) error {
	addr := authority.Address()
	if !bytes.Equal(meta.MintAuthority, addr[:]) {
		return fmt.Errorf("token %s: authority mismatch", meta.Symbol)
	}
	return nil
}

// Mint credits newly issued units to an account. The presented authority must
// match the asset's registered mint authority.
func (m *Manager) Mint(symbol string, to []byte, amount *big.Int, authority rewards.Authority) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	if err := m.authorize(meta, authority); err != nil {
		return err
	}
	if len(to) == 0 {
		return fmt.Errorf("recipient address must not be empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	balance, err := m.Balance(to, normalized)
	if err != nil {
		return err
	}
	if err := m.setBalance(to, normalized, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return m.adjustTokenSupply(normalized, amount)
}

// Burn removes units from an account. The presented authority must match the
// asset's registered mint authority, and the account balance can never go
// negative.
func (m *Manager) Burn(symbol string, from []byte, amount *big.Int, authority rewards.Authority) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	if err := m.authorize(meta, authority); err != nil {
		return err
	}
	if len(from) == 0 {
		return fmt.Errorf("source address must not be empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("burn amount must be positive")
	}
	balance, err := m.Balance(from, normalized)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: insufficient balance to burn", normalized)
	}
	if err := m.setBalance(from, normalized, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return m.adjustTokenSupply(normalized, new(big.Int).Neg(amount))
}

// --- asset metadata records ---

// MetadataRecord is the display metadata stored once per plan asset.
type MetadataRecord struct {
	Asset         string
	Name          string
	Symbol        string
	URI           string
	UsesRemaining uint64
	UsesTotal     uint64
}

// CreateMetadataRecord persists the display metadata for an asset. It
// implements the registry's MetadataProvisioner contract and rejects
// duplicate records.
func (m *Manager) CreateMetadataRecord(asset, name, symbol, uri string, uses rewards.UsesPolicy) error {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		return fmt.Errorf("metadata: asset symbol required")
	}
	existing, err := m.db.Get(metadataKey(normalized))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("metadata: record for %s already exists", normalized)
	}
	record := &MetadataRecord{
		Asset:         normalized,
		Name:          name,
		Symbol:        symbol,
		URI:           uri,
		UsesRemaining: uses.Remaining,
		UsesTotal:     uses.Total,
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.write(metadataKey(normalized), encoded)
}

// AssetMetadata retrieves the display metadata record for an asset.
func (m *Manager) AssetMetadata(asset string) (*MetadataRecord, bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	data, err := m.db.Get(metadataKey(normalized))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	record := new(MetadataRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// --- generic KV ---

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the
// key existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list
// stored under the supplied key. Duplicate values are ignored to keep the
// index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.db.Get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.write(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
