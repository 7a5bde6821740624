package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"rewardnet/core"
	"rewardnet/core/state"
	"rewardnet/core/types"
	"rewardnet/crypto"
	rewards "rewardnet/native/rewards"
	"rewardnet/storage"
)

func newTestProcessor(t *testing.T) *core.Processor {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return core.NewProcessor(state.NewManager(db))
}

func newSigner(t *testing.T) (*crypto.PrivateKey, [20]byte, string) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	var fixed [20]byte
	copy(fixed[:], addr.Bytes())
	return key, fixed, addr.String()
}

func bech(addr [20]byte) string {
	return crypto.NewAddress(crypto.RWDPrefix, addr[:]).String()
}

func signTx(t *testing.T, key *crypto.PrivateKey, instructions ...types.Instruction) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{Instructions: instructions}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign transaction: %v", err)
	}
	return tx
}

func createPlanInstruction(t *testing.T, name string, threshold uint64, allowedCaller [20]byte, symbol string) types.Instruction {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{
		"name":           name,
		"threshold":      threshold,
		"allowedCaller":  bech(allowedCaller),
		"metadataSymbol": symbol,
	})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return types.Instruction{Program: rewards.ProgramAddress, Op: core.OpCreateRewardPlan, Params: params}
}

// reportParams mirrors the payload an activity-reporting program receives.
type reportParams struct {
	Admin  string `json:"admin"`
	Name   string `json:"name"`
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

// reporterProgram is a caller program that forwards activity reports into the
// rewards engine as nested invocations.
type reporterProgram struct {
	granted []bool
	fail    bool
}

func (p *reporterProgram) Execute(ctx *core.ProgramContext) error {
	var params reportParams
	if err := json.Unmarshal(ctx.Instruction().Params, &params); err != nil {
		return err
	}
	admin, err := crypto.MustDecodeAddressBytes(params.Admin)
	if err != nil {
		return err
	}
	user, err := crypto.MustDecodeAddressBytes(params.User)
	if err != nil {
		return err
	}
	granted, err := ctx.InvokeReward(admin, params.Name, user[:], params.Amount)
	if err != nil {
		return err
	}
	p.granted = append(p.granted, granted)
	if p.fail {
		return fmt.Errorf("reporter: simulated downstream failure")
	}
	return nil
}

func reportInstruction(t *testing.T, program [20]byte, admin [20]byte, name string, user [20]byte, amount uint64) types.Instruction {
	t.Helper()
	params, err := json.Marshal(reportParams{Admin: bech(admin), Name: name, User: bech(user), Amount: amount})
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	return types.Instruction{Program: program, Op: "report_activity", Params: params}
}

func TestProcessorCreatePlan(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, admin, _ := newSigner(t)
	caller := [20]byte{19: 0x22}

	tx := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, caller, "REFR"))
	if err := p.ApplyTransaction(tx); err != nil {
		t.Fatalf("apply: %v", err)
	}

	plan, ok := p.Registry().GetPlan(admin, "referrals")
	if !ok {
		t.Fatalf("expected plan to exist")
	}
	if plan.Threshold != 5 || plan.AllowedCaller != caller {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	dup := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, caller, "REFR2"))
	if err := p.ApplyTransaction(dup); !errors.Is(err, rewards.ErrDuplicatePlan) {
		t.Fatalf("expected ErrDuplicatePlan, got %v", err)
	}
}

func TestProcessorNestedRewardFlow(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, admin, _ := newSigner(t)
	reporterKey, _, _ := newSigner(t)
	programAddr := [20]byte{19: 0x22}
	user := [20]byte{19: 0x44}

	reporter := &reporterProgram{}
	if err := p.RegisterProgram(programAddr, reporter); err != nil {
		t.Fatalf("register program: %v", err)
	}

	setup := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, programAddr, "REFR"))
	if err := p.ApplyTransaction(setup); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	for i := 0; i < 6; i++ {
		tx := signTx(t, reporterKey, reportInstruction(t, programAddr, admin, "referrals", user, 1))
		if err := p.ApplyTransaction(tx); err != nil {
			t.Fatalf("report %d: %v", i+1, err)
		}
	}

	want := []bool{false, false, false, false, false, true}
	if len(reporter.granted) != len(want) {
		t.Fatalf("expected %d reports, got %d", len(want), len(reporter.granted))
	}
	for i := range want {
		if reporter.granted[i] != want[i] {
			t.Fatalf("report %d: granted=%v, want %v", i+1, reporter.granted[i], want[i])
		}
	}

	balance, err := p.State().Balance(user[:], "REFR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected balance 1 after the grant cycle, got %s", balance)
	}
}

func TestProcessorRejectsTopLevelReward(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, _, adminStr := newSigner(t)
	caller := [20]byte{19: 0x22}
	user := [20]byte{19: 0x44}

	setup := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, caller, "REFR"))
	if err := p.ApplyTransaction(setup); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	params, _ := json.Marshal(map[string]interface{}{
		"admin": adminStr, "name": "referrals", "user": bech(user), "amount": uint64(1),
	})
	direct := signTx(t, adminKey, types.Instruction{
		Program: rewards.ProgramAddress,
		Op:      core.OpReward,
		Params:  params,
	})
	if err := p.ApplyTransaction(direct); !errors.Is(err, rewards.ErrInsufficientPrivileges) {
		t.Fatalf("expected ErrInsufficientPrivileges, got %v", err)
	}

	balance, err := p.State().Balance(user[:], "REFR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("rejected call changed the balance: %s", balance)
	}
}

func TestProcessorRevertsFailedTransaction(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, admin, _ := newSigner(t)
	programAddr := [20]byte{19: 0x22}
	user := [20]byte{19: 0x44}

	reporter := &reporterProgram{fail: true}
	if err := p.RegisterProgram(programAddr, reporter); err != nil {
		t.Fatalf("register program: %v", err)
	}
	setup := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, programAddr, "REFR"))
	if err := p.ApplyTransaction(setup); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	// The nested reward succeeds but the enclosing instruction fails, so the
	// mint must be rolled back with the rest of the transaction.
	tx := signTx(t, adminKey, reportInstruction(t, programAddr, admin, "referrals", user, 3))
	if err := p.ApplyTransaction(tx); err == nil {
		t.Fatalf("expected transaction to fail")
	}
	balance, err := p.State().Balance(user[:], "REFR")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected mint to be reverted, balance %s", balance)
	}

	// A transaction that fails on its second instruction reverts the first.
	twoStep := signTx(t, adminKey,
		createPlanInstruction(t, "bonus", 3, programAddr, "BON"),
		types.Instruction{Program: [20]byte{19: 0x99}, Op: "noop"},
	)
	if err := p.ApplyTransaction(twoStep); !errors.Is(err, core.ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
	if _, ok := p.Registry().GetPlan(admin, "bonus"); ok {
		t.Fatalf("expected plan creation to be reverted")
	}
	if p.State().TokenExists("BON") {
		t.Fatalf("expected token registration to be reverted")
	}
}

func TestProcessorEndPlan(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, _, _ := newSigner(t)
	caller := [20]byte{19: 0x22}

	endParams, _ := json.Marshal(map[string]string{"name": "referrals"})
	end := types.Instruction{Program: rewards.ProgramAddress, Op: core.OpEndRewardPlan, Params: endParams}

	missing := signTx(t, adminKey, end)
	if err := p.ApplyTransaction(missing); !errors.Is(err, rewards.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	setup := signTx(t, adminKey, createPlanInstruction(t, "referrals", 5, caller, "REFR"))
	if err := p.ApplyTransaction(setup); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := p.ApplyTransaction(signTx(t, adminKey, end)); err != nil {
		t.Fatalf("end plan: %v", err)
	}
}

func TestProcessorValidation(t *testing.T) {
	p := newTestProcessor(t)
	adminKey, _, _ := newSigner(t)

	if err := p.ApplyTransaction(nil); err == nil {
		t.Fatalf("expected nil transaction to fail")
	}
	if err := p.ApplyTransaction(&types.Transaction{}); err == nil {
		t.Fatalf("expected empty transaction to fail")
	}

	unsigned := &types.Transaction{Instructions: []types.Instruction{
		{Program: rewards.ProgramAddress, Op: core.OpEndRewardPlan, Params: []byte(`{"name":"x"}`)},
	}}
	if err := p.ApplyTransaction(unsigned); err == nil {
		t.Fatalf("expected unsigned transaction to fail")
	}

	bogus := signTx(t, adminKey, types.Instruction{
		Program: rewards.ProgramAddress, Op: "bogus", Params: []byte(`{}`),
	})
	if err := p.ApplyTransaction(bogus); !errors.Is(err, core.ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}

	if err := p.RegisterProgram([20]byte{1}, nil); err == nil {
		t.Fatalf("expected nil handler registration to fail")
	}
	if err := p.RegisterProgram(rewards.ProgramAddress, &reporterProgram{}); err == nil {
		t.Fatalf("expected reserved address registration to fail")
	}
	if err := p.RegisterProgram([20]byte{2}, &reporterProgram{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RegisterProgram([20]byte{2}, &reporterProgram{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
