package rewards

import (
	"errors"
	"fmt"
	"math/big"

	"rewardnet/core/events"
)

var errNilEngineState = errors.New("rewards engine: state not configured")

// rewardState describes the state and ledger access the engine needs. Mint
// and Burn enforce that the presented authority matches the asset's
// registered mint authority; the engine is the only component able to
// construct plan authorities.
type rewardState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	Balance(addr []byte, symbol string) (*big.Int, error)
	Mint(symbol string, to []byte, amount *big.Int, authority Authority) error
	Burn(symbol string, from []byte, amount *big.Int, authority Authority) error
}

// Engine drives the reward state transition for a plan: it verifies the
// invoking program, reads the user's fresh accrual balance, resets it by the
// plan threshold when the threshold is met and mints the reported accrual
// amount.
type Engine struct {
	state   rewardState
	emitter events.Emitter
}

// NewEngine creates a rewards engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state rewardState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Reward processes one qualifying-activity report for the plan owned by admin
// under the given name. The call must arrive as a nested invocation from the
// plan's allowed caller; ictx exposes the enclosing transaction's instruction
// sequence for that check.
//
// The user's balance is read fresh on every call. When it meets the plan
// threshold the engine burns exactly the threshold amount, so any
// over-threshold remainder carries forward to the next cycle, then mints the
// reported amount unconditionally. The returned boolean tells the caller
// whether this call crossed the threshold.
func (e *Engine) Reward(ictx InstructionContext, admin [20]byte, name string, user []byte, amount uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilEngineState
	}
	id := DerivePlanID(admin, name)
	plan := new(Plan)
	ok, err := e.state.KVGet(planKey(id), plan)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrPlanNotFound
	}

	if err := VerifyImmediateCaller(ictx, plan.AllowedCaller); err != nil {
		return false, err
	}
	if len(user) == 0 {
		return false, fmt.Errorf("%w: user address required", ErrInvalidParams)
	}

	balance, err := e.state.Balance(user, plan.AssetSymbol)
	if err != nil {
		return false, err
	}
	threshold := new(big.Int).SetUint64(plan.Threshold)
	approved := balance.Cmp(threshold) >= 0

	authority := planAuthority(id)
	if approved {
		if err := e.state.Burn(plan.AssetSymbol, user, threshold, authority); err != nil {
			return false, fmt.Errorf("%w: burn threshold: %v", ErrLedgerInconsistency, err)
		}
	}
	if amount > 0 {
		if err := e.state.Mint(plan.AssetSymbol, user, new(big.Int).SetUint64(amount), authority); err != nil {
			return false, fmt.Errorf("%w: mint accrual: %v", ErrLedgerInconsistency, err)
		}
	}

	updated, err := e.state.Balance(user, plan.AssetSymbol)
	if err != nil {
		return false, err
	}
	e.emit(events.RewardAccrued{
		ID:      id,
		User:    append([]byte(nil), user...),
		Asset:   plan.AssetSymbol,
		Amount:  amount,
		Granted: approved,
		Balance: updated,
	})
	return approved, nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
