package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"rewardnet/core/events"
	"rewardnet/core/state"
	"rewardnet/core/types"
	"rewardnet/crypto"
	"rewardnet/native/rewards"
)

// Engine instruction operations.
const (
	OpCreateRewardPlan = "create_reward_plan"
	OpReward           = "reward"
	OpEndRewardPlan    = "end_reward_plan"
)

var (
	ErrUnknownProgram = errors.New("processor: unknown program")
	ErrUnknownOp      = errors.New("processor: unknown operation")
)

// ProgramHandler executes one instruction addressed to a registered caller
// program. Handlers run inside the transaction's atomic scope: any error
// aborts the whole transaction and reverts every state write it performed.
type ProgramHandler interface {
	Execute(ctx *ProgramContext) error
}

// ProgramContext is handed to a program handler for one instruction. It
// carries the authenticated transaction signer and lets the handler invoke
// the rewards engine as a nested call, with the engine able to see which
// instruction issued the invocation.
type ProgramContext struct {
	processor *Processor
	tx        *types.Transaction
	index     int
	signer    [20]byte
}

// Signer returns the address recovered from the transaction signature.
func (c *ProgramContext) Signer() [20]byte { return c.signer }

// Instruction returns the instruction being executed.
func (c *ProgramContext) Instruction() types.Instruction {
	return c.tx.Instructions[c.index]
}

// InvokeReward performs a nested call into the rewards engine on behalf of
// the current instruction's program. The engine verifies that this program is
// the plan's allowed caller by inspecting the instruction sequence.
func (c *ProgramContext) InvokeReward(admin [20]byte, name string, user []byte, amount uint64) (bool, error) {
	ictx := &instructionContext{tx: c.tx, caller: c.index, nested: true}
	return c.processor.engine.Reward(ictx, admin, name, user, amount)
}

// Processor executes transactions against the state manager. Each transaction
// applies atomically: the processor snapshots state up front and reverts every
// write when any instruction fails.
type Processor struct {
	st       *state.Manager
	registry *rewards.Registry
	engine   *rewards.Engine
	programs map[[20]byte]ProgramHandler
}

// NewProcessor wires a processor, plan registry and rewards engine over the
// provided state manager. The manager doubles as the asset ledger and the
// metadata provisioner.
func NewProcessor(st *state.Manager) *Processor {
	registry := rewards.NewRegistry(st)
	registry.SetMetadataProvisioner(st)
	engine := rewards.NewEngine()
	engine.SetState(st)
	return &Processor{
		st:       st,
		registry: registry,
		engine:   engine,
		programs: make(map[[20]byte]ProgramHandler),
	}
}

// Registry exposes the plan registry for read paths (RPC, tooling).
func (p *Processor) Registry() *rewards.Registry { return p.registry }

// State exposes the underlying state manager for read paths.
func (p *Processor) State() *state.Manager { return p.st }

// SetEmitter configures the event emitter used by the registry and engine.
func (p *Processor) SetEmitter(emitter events.Emitter) {
	p.registry.SetEmitter(emitter)
	p.engine.SetEmitter(emitter)
}

// RegisterProgram registers a caller program handler under its address.
func (p *Processor) RegisterProgram(addr [20]byte, handler ProgramHandler) error {
	if handler == nil {
		return fmt.Errorf("processor: nil handler")
	}
	if addr == rewards.ProgramAddress {
		return fmt.Errorf("processor: address reserved for the rewards engine")
	}
	if _, exists := p.programs[addr]; exists {
		return fmt.Errorf("processor: program already registered")
	}
	p.programs[addr] = handler
	return nil
}

// ApplyTransaction executes every instruction in order. On any failure all
// state written by the transaction is rolled back and the error is returned
// to the submitter; nothing is retried.
func (p *Processor) ApplyTransaction(tx *types.Transaction) error {
	if tx == nil || len(tx.Instructions) == 0 {
		return fmt.Errorf("processor: transaction has no instructions")
	}
	fromBytes, err := tx.From()
	if err != nil {
		return fmt.Errorf("processor: recover signer: %w", err)
	}
	if len(fromBytes) != 20 {
		return fmt.Errorf("processor: invalid signer address")
	}
	var signer [20]byte
	copy(signer[:], fromBytes)

	snapshot := p.st.Snapshot()
	for i := range tx.Instructions {
		if err := p.execInstruction(tx, i, signer); err != nil {
			if revertErr := p.st.RevertToSnapshot(snapshot); revertErr != nil {
				return errors.Join(err, revertErr)
			}
			return err
		}
	}
	return nil
}

func (p *Processor) execInstruction(tx *types.Transaction, index int, signer [20]byte) error {
	ins := tx.Instructions[index]
	if ins.Program == rewards.ProgramAddress {
		return p.execEngineOp(tx, index, signer)
	}
	handler, ok := p.programs[ins.Program]
	if !ok {
		return ErrUnknownProgram
	}
	return handler.Execute(&ProgramContext{processor: p, tx: tx, index: index, signer: signer})
}

type createPlanParams struct {
	Name           string `json:"name"`
	Threshold      uint64 `json:"threshold"`
	AllowedCaller  string `json:"allowedCaller"`
	MetadataURI    string `json:"metadataUri"`
	MetadataSymbol string `json:"metadataSymbol"`
}

type rewardParams struct {
	Admin  string `json:"admin"`
	Name   string `json:"name"`
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

type endPlanParams struct {
	Name string `json:"name"`
}

func (p *Processor) execEngineOp(tx *types.Transaction, index int, signer [20]byte) error {
	ins := tx.Instructions[index]
	switch ins.Op {
	case OpCreateRewardPlan:
		var params createPlanParams
		if err := json.Unmarshal(ins.Params, &params); err != nil {
			return fmt.Errorf("%w: %v", rewards.ErrInvalidParams, err)
		}
		allowedCaller, err := crypto.MustDecodeAddressBytes(params.AllowedCaller)
		if err != nil {
			return fmt.Errorf("%w: allowed caller: %v", rewards.ErrInvalidParams, err)
		}
		_, err = p.registry.CreatePlan(signer, rewards.CreatePlanParams{
			Name:           params.Name,
			Threshold:      params.Threshold,
			AllowedCaller:  allowedCaller,
			MetadataURI:    params.MetadataURI,
			MetadataSymbol: params.MetadataSymbol,
		})
		return err
	case OpReward:
		var params rewardParams
		if err := json.Unmarshal(ins.Params, &params); err != nil {
			return fmt.Errorf("%w: %v", rewards.ErrInvalidParams, err)
		}
		admin, err := crypto.MustDecodeAddressBytes(params.Admin)
		if err != nil {
			return fmt.Errorf("%w: admin: %v", rewards.ErrInvalidParams, err)
		}
		user, err := crypto.DecodeAddress(params.User)
		if err != nil {
			return fmt.Errorf("%w: user: %v", rewards.ErrInvalidParams, err)
		}
		// A top-level reward instruction carries no invoking program, so
		// the engine's privilege check rejects it.
		ictx := &instructionContext{tx: tx}
		_, err = p.engine.Reward(ictx, admin, params.Name, user.Bytes(), params.Amount)
		return err
	case OpEndRewardPlan:
		var params endPlanParams
		if err := json.Unmarshal(ins.Params, &params); err != nil {
			return fmt.Errorf("%w: %v", rewards.ErrInvalidParams, err)
		}
		return p.registry.EndPlan(signer, params.Name)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOp, ins.Op)
	}
}

// instructionContext adapts a transaction to the engine's introspection
// interface. caller is only meaningful when nested is true.
type instructionContext struct {
	tx     *types.Transaction
	caller int
	nested bool
}

func (c *instructionContext) ProgramAt(index int) ([20]byte, bool) {
	if c.tx == nil || index < 0 || index >= len(c.tx.Instructions) {
		return [20]byte{}, false
	}
	return c.tx.Instructions[index].Program, true
}

func (c *instructionContext) CallerIndex() (int, bool) {
	if !c.nested {
		return 0, false
	}
	return c.caller, true
}
