package events

import "math/big"

const (
	// TypeRewardPlanCreated is emitted when a reward plan is first
	// registered.
	TypeRewardPlanCreated = "rewards.plan.created"
	// TypeRewardAccrued is emitted for every successful reward call, whether
	// or not the threshold was crossed.
	TypeRewardAccrued = "rewards.accrued"
	// TypeRewardPlanEnded is emitted when an admin retires a reward plan.
	TypeRewardPlanEnded = "rewards.plan.ended"
)

// RewardPlanCreated captures the key metadata of a newly created reward plan.
type RewardPlanCreated struct {
	ID            [32]byte
	Admin         [20]byte
	Name          string
	Threshold     uint64
	AllowedCaller [20]byte
	Asset         string
	Authority     [20]byte
}

// EventType implements the Event interface.
func (RewardPlanCreated) EventType() string { return TypeRewardPlanCreated }

// RewardAccrued reports the outcome of one reward call: the minted accrual
// amount and whether the user's balance crossed the plan threshold.
type RewardAccrued struct {
	ID      [32]byte
	User    []byte
	Asset   string
	Amount  uint64
	Granted bool
	Balance *big.Int
}

// EventType implements the Event interface.
func (RewardAccrued) EventType() string { return TypeRewardAccrued }

// RewardPlanEnded captures the retirement request for a plan.
type RewardPlanEnded struct {
	ID    [32]byte
	Admin [20]byte
	Name  string
}

// EventType implements the Event interface.
func (RewardPlanEnded) EventType() string { return TypeRewardPlanEnded }
