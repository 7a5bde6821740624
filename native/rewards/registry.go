package rewards

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rewardnet/core/events"
)

var (
	errNilRegistryState = errors.New("rewards registry: state not configured")
	errNilProvisioner   = errors.New("rewards registry: metadata provisioner not configured")
)

var (
	planKeyPrefix  = []byte("rewards/plan/")
	adminIdxPrefix = []byte("rewards/admin/")
)

func planKey(id PlanID) []byte {
	key := make([]byte, len(planKeyPrefix)+len(id))
	copy(key, planKeyPrefix)
	copy(key[len(planKeyPrefix):], id[:])
	return key
}

func adminIdxKey(admin [20]byte) []byte {
	key := make([]byte, len(adminIdxPrefix)+len(admin))
	copy(key, adminIdxPrefix)
	copy(key[len(adminIdxPrefix):], admin[:])
	return key
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	TokenExists(symbol string) bool
	RegisterToken(symbol, name string, decimals uint8, mintAuthority []byte) error
}

// MetadataProvisioner creates the display metadata record for a plan asset.
// It is invoked exactly once per plan, at creation; a failure aborts the
// creation.
type MetadataProvisioner interface {
	CreateMetadataRecord(asset, name, symbol, uri string, uses UsesPolicy) error
}

// CreatePlanParams carries the admin-supplied configuration for a new plan.
type CreatePlanParams struct {
	Name           string
	Threshold      uint64
	AllowedCaller  [20]byte
	MetadataURI    string
	MetadataSymbol string
}

// Registry manages persistence and retrieval of reward plans.
type Registry struct {
	st       registryState
	metadata MetadataProvisioner
	emitter  events.Emitter
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetMetadataProvisioner configures the collaborator that records display
// metadata for plan assets.
func (r *Registry) SetMetadataProvisioner(p MetadataProvisioner) {
	r.metadata = p
}

// CreatePlan persists a new reward plan owned by the caller. The caller is the
// authenticated admin recovered from the enclosing transaction's signature.
// The plan's asset is provisioned with fixed decimals and the derived plan
// authority as its sole mint and burn authority.
func (r *Registry) CreatePlan(caller [20]byte, params CreatePlanParams) (*Plan, error) {
	if r == nil || r.st == nil {
		return nil, errNilRegistryState
	}
	if r.metadata == nil {
		return nil, errNilProvisioner
	}
	name := params.Name
	if name == "" {
		return nil, fmt.Errorf("%w: plan name required", ErrInvalidParams)
	}
	if len(name) > MaxPlanNameLength {
		return nil, fmt.Errorf("%w: plan name exceeds %d bytes", ErrInvalidParams, MaxPlanNameLength)
	}
	if params.Threshold == 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidParams)
	}
	if params.AllowedCaller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: allowed caller required", ErrInvalidParams)
	}
	symbol := strings.ToUpper(strings.TrimSpace(params.MetadataSymbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: metadata symbol required", ErrInvalidParams)
	}

	id := DerivePlanID(caller, name)
	exists, err := r.st.KVGet(planKey(id), new(Plan))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicatePlan
	}
	if r.st.TokenExists(symbol) {
		return nil, fmt.Errorf("%w: asset symbol %s already registered", ErrInvalidParams, symbol)
	}

	authority := DeriveAuthorityAddress(id)
	if err := r.st.RegisterToken(symbol, name, RewardAssetDecimals, authority[:]); err != nil {
		return nil, err
	}
	uses := UsesPolicy{Remaining: MetadataUsesTotal, Total: MetadataUsesTotal}
	if err := r.metadata.CreateMetadataRecord(symbol, name, symbol, params.MetadataURI, uses); err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:            id,
		Admin:         caller,
		Name:          name,
		Threshold:     params.Threshold,
		AllowedCaller: params.AllowedCaller,
		AssetSymbol:   symbol,
		MetadataURI:   params.MetadataURI,
	}
	if err := r.st.KVPut(planKey(id), plan); err != nil {
		return nil, err
	}
	if err := r.st.KVAppend(adminIdxKey(caller), id[:]); err != nil {
		return nil, err
	}
	r.emit(events.RewardPlanCreated{
		ID:            id,
		Admin:         caller,
		Name:          name,
		Threshold:     plan.Threshold,
		AllowedCaller: plan.AllowedCaller,
		Asset:         symbol,
		Authority:     authority,
	})
	return plan, nil
}

// GetPlan retrieves the plan owned by admin under the given name by
// recomputing its deterministic address.
func (r *Registry) GetPlan(admin [20]byte, name string) (*Plan, bool) {
	return r.PlanByID(DerivePlanID(admin, name))
}

// PlanByID retrieves a plan by its address.
func (r *Registry) PlanByID(id PlanID) (*Plan, bool) {
	if r == nil || r.st == nil {
		return nil, false
	}
	out := new(Plan)
	ok, err := r.st.KVGet(planKey(id), out)
	if err != nil || !ok {
		return nil, false
	}
	return out, true
}

// ListPlansByAdmin returns all plan IDs created by the provided admin in
// deterministic order.
func (r *Registry) ListPlansByAdmin(admin [20]byte) ([]PlanID, error) {
	if r == nil || r.st == nil {
		return nil, errNilRegistryState
	}
	var raw [][]byte
	if err := r.st.KVGetList(adminIdxKey(admin), &raw); err != nil {
		return nil, err
	}
	ids := make([]PlanID, 0, len(raw))
	for _, b := range raw {
		var id PlanID
		copy(id[:], b)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}

// EndPlan retires the plan owned by the caller under the given name. The
// operation currently performs no state change; it validates the plan exists
// and reports the retirement downstream.
func (r *Registry) EndPlan(caller [20]byte, name string) error {
	if r == nil || r.st == nil {
		return errNilRegistryState
	}
	id := DerivePlanID(caller, name)
	plan, ok := r.PlanByID(id)
	if !ok {
		return ErrPlanNotFound
	}
	r.emit(events.RewardPlanEnded{ID: id, Admin: plan.Admin, Name: plan.Name})
	return nil
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}
