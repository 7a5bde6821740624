package rewards

import "errors"

var (
	ErrInvalidParams          = errors.New("rewards: invalid params")
	ErrDuplicatePlan          = errors.New("rewards: plan already exists")
	ErrPlanNotFound           = errors.New("rewards: plan not found")
	ErrInsufficientPrivileges = errors.New("rewards: insufficient privileges")
	ErrLedgerInconsistency    = errors.New("rewards: ledger inconsistency")
)
