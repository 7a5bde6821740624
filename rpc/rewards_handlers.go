package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"rewardnet/core/types"
	"rewardnet/crypto"
	"rewardnet/native/rewards"
)

type planResult struct {
	ID            string `json:"id"`
	Admin         string `json:"admin"`
	Name          string `json:"name"`
	Threshold     uint64 `json:"threshold"`
	AllowedCaller string `json:"allowedCaller"`
	Asset         string `json:"asset"`
	Authority     string `json:"authority"`
	MetadataURI   string `json:"metadataUri,omitempty"`
}

func planToResult(plan *rewards.Plan) planResult {
	return planResult{
		ID:            hex.EncodeToString(plan.ID[:]),
		Admin:         crypto.NewAddress(crypto.RWDPrefix, plan.Admin[:]).String(),
		Name:          plan.Name,
		Threshold:     plan.Threshold,
		AllowedCaller: crypto.NewAddress(crypto.RWDPrefix, plan.AllowedCaller[:]).String(),
		Asset:         plan.AssetSymbol,
		Authority: crypto.NewAddress(crypto.RWDPrefix, func() []byte {
			addr := rewards.DeriveAuthorityAddress(plan.ID)
			return addr[:]
		}()).String(),
		MetadataURI: plan.MetadataURI,
	}
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single transaction object", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction payload", err.Error())
		return
	}
	hash, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to hash transaction", err.Error())
		return
	}
	hashHex := hex.EncodeToString(hash)
	if !s.markTxSeen(hashHex) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "transaction already submitted", hashHex)
		return
	}
	if err := s.processor.ApplyTransaction(&tx); err != nil {
		// A rejected transaction leaves no state behind, so its hash must not
		// block a later resubmission either.
		s.unmarkTxSeen(hashHex)
		status, code := mapEngineError(err)
		s.log.Warn("transaction rejected", "hash", hashHex, "err", err)
		writeError(w, status, req.ID, code, err.Error(), hashHex)
		return
	}
	s.log.Info("transaction applied", "hash", hashHex, "instructions", len(tx.Instructions))
	writeResult(w, req.ID, map[string]string{"txHash": hashHex, "status": "applied"})
}

func mapEngineError(err error) (int, int) {
	switch {
	case errors.Is(err, rewards.ErrInvalidParams), errors.Is(err, rewards.ErrDuplicatePlan):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, rewards.ErrPlanNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, rewards.ErrInsufficientPrivileges):
		return http.StatusForbidden, codeUnauthorized
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

type getPlanParams struct {
	Admin string `json:"admin"`
	Name  string `json:"name"`
}

func (s *Server) handleGetPlan(w http.ResponseWriter, req *RPCRequest) {
	var params getPlanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	admin, err := crypto.MustDecodeAddressBytes(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	plan, ok := s.processor.Registry().GetPlan(admin, params.Name)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "plan not found", nil)
		return
	}
	writeResult(w, req.ID, planToResult(plan))
}

type listPlansParams struct {
	Admin string `json:"admin"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, req *RPCRequest) {
	var params listPlansParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	admin, err := crypto.MustDecodeAddressBytes(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	ids, err := s.processor.Registry().ListPlansByAdmin(admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list plans", err.Error())
		return
	}
	results := make([]planResult, 0, len(ids))
	for _, id := range ids {
		plan, ok := s.processor.Registry().PlanByID(id)
		if !ok {
			continue
		}
		results = append(results, planToResult(plan))
	}
	writeResult(w, req.ID, results)
}

type getBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params getBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := crypto.MustDecodeAddressBytes(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if params.Asset == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset symbol required", nil)
		return
	}
	balance, err := s.processor.State().Balance(addr[:], params.Asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read balance", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"asset":   params.Asset,
		"amount":  balance.String(),
	})
}

type getAuthorityParams struct {
	Admin string `json:"admin"`
	Name  string `json:"name"`
}

// handleGetAuthority derives the plan identifier and its authority address
// without touching state. Useful for clients preparing funding flows before
// the plan exists.
func (s *Server) handleGetAuthority(w http.ResponseWriter, req *RPCRequest) {
	var params getAuthorityParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	admin, err := crypto.MustDecodeAddressBytes(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	if params.Name == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "plan name required", nil)
		return
	}
	id := rewards.DerivePlanID(admin, params.Name)
	authority := rewards.DeriveAuthorityAddress(id)
	writeResult(w, req.ID, map[string]string{
		"planId":    hex.EncodeToString(id[:]),
		"authority": crypto.NewAddress(crypto.RWDPrefix, authority[:]).String(),
	})
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return errors.New("invalid params payload")
	}
	return nil
}
