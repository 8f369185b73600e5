package rpc

import (
	"net/http"

	"wagercore/native/ledger"
)

type ledgerInitializeParams struct {
	Backend string `json:"backend"`
}

type ledgerSetBalanceParams struct {
	Caller       string `json:"caller"`
	User         string `json:"user"`
	Withdrawable string `json:"withdrawable"`
	Locked       string `json:"locked"`
}

type ledgerApplyDeltaParams struct {
	Caller            string `json:"caller"`
	User              string `json:"user"`
	WithdrawableDelta string `json:"withdrawableDelta"`
	LockedDelta       string `json:"lockedDelta"`
}

type ledgerAmountParams struct {
	Caller string `json:"caller"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type ledgerUserParams struct {
	User string `json:"user"`
}

type ledgerRecordMetricsParams struct {
	Caller      string `json:"caller"`
	User        string `json:"user"`
	StakedDelta string `json:"stakedDelta"`
	WonDelta    string `json:"wonDelta"`
	LostDelta   string `json:"lostDelta"`
}

type balanceJSON struct {
	User         string `json:"user"`
	Withdrawable string `json:"withdrawable"`
	Locked       string `json:"locked"`
}

type metricsJSON struct {
	User        string `json:"user"`
	TotalStaked string `json:"totalStaked"`
	TotalWon    string `json:"totalWon"`
	TotalLost   string `json:"totalLost"`
}

func balanceToJSON(user [20]byte, balance *ledger.UserBalance) balanceJSON {
	return balanceJSON{
		User:         formatAddress(user),
		Withdrawable: balance.Withdrawable.String(),
		Locked:       balance.Locked.String(),
	}
}

func metricsToJSON(user [20]byte, metrics *ledger.UserMetrics) metricsJSON {
	return metricsJSON{
		User:        formatAddress(user),
		TotalStaked: metrics.TotalStaked.String(),
		TotalWon:    metrics.TotalWon.String(),
		TotalLost:   metrics.TotalLost.String(),
	}
}

func (s *Server) handleLedgerInitialize(w http.ResponseWriter, req *RPCRequest) {
	var params ledgerInitializeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	backend, err := parseAddress("backend", params.Backend)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.LedgerInitialize(backend); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleLedgerSetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params ledgerSetBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	user, err := parseAddress("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	withdrawable, err := parseAmount("withdrawable", params.Withdrawable)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	locked, err := parseAmount("locked", params.Locked)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.LedgerSetBalance(caller, user, withdrawable, locked)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceToJSON(user, balance))
}

func (s *Server) handleLedgerApplyDelta(w http.ResponseWriter, req *RPCRequest) {
	var params ledgerApplyDeltaParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	user, err := parseAddress("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	withdrawableDelta, err := parseAmount("withdrawableDelta", params.WithdrawableDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lockedDelta, err := parseAmount("lockedDelta", params.LockedDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.LedgerApplyDelta(caller, user, withdrawableDelta, lockedDelta)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceToJSON(user, balance))
}

func (s *Server) handleLedgerLock(w http.ResponseWriter, req *RPCRequest) {
	s.handleLedgerLockUnlock(w, req, true)
}

func (s *Server) handleLedgerUnlock(w http.ResponseWriter, req *RPCRequest) {
	s.handleLedgerLockUnlock(w, req, false)
}

func (s *Server) handleLedgerLockUnlock(w http.ResponseWriter, req *RPCRequest, lock bool) {
	var params ledgerAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	user, err := parseAddress("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var balance *ledger.UserBalance
	if lock {
		balance, err = s.node.LedgerLock(caller, user, amount)
	} else {
		balance, err = s.node.LedgerUnlock(caller, user, amount)
	}
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceToJSON(user, balance))
}

func (s *Server) handleLedgerGetBalance(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	balance, err := s.node.LedgerGetBalance(user)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceToJSON(user, balance))
}

func (s *Server) handleLedgerGetWithdrawable(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	amount, err := s.node.LedgerGetWithdrawable(user)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amount.String())
}

func (s *Server) handleLedgerGetLocked(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	amount, err := s.node.LedgerGetLocked(user)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amount.String())
}

func (s *Server) handleLedgerGetTotal(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	total, err := s.node.LedgerGetTotal(user)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, total.String())
}

func (s *Server) handleLedgerRecordMetrics(w http.ResponseWriter, req *RPCRequest) {
	var params ledgerRecordMetricsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	user, err := parseAddress("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	stakedDelta, err := parseAmount("stakedDelta", params.StakedDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	wonDelta, err := parseAmount("wonDelta", params.WonDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lostDelta, err := parseAmount("lostDelta", params.LostDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	metrics, err := s.node.LedgerRecordMetrics(caller, user, stakedDelta, wonDelta, lostDelta)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, metricsToJSON(user, metrics))
}

func (s *Server) handleLedgerGetMetrics(w http.ResponseWriter, req *RPCRequest) {
	user, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	metrics, err := s.node.LedgerGetMetrics(user)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, metricsToJSON(user, metrics))
}

func (s *Server) decodeUser(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params ledgerUserParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [20]byte{}, false
	}
	user, err := parseAddress("user", params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [20]byte{}, false
	}
	return user, true
}
