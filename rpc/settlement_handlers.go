package rpc

import (
	"fmt"
	"net/http"

	"wagercore/native/settlement"
)

type settlementInitializeParams struct {
	Backend string `json:"backend"`
}

type settlementSettleParams struct {
	Caller        string  `json:"caller"`
	OperationHash string  `json:"operationHash"`
	WagerID       string  `json:"wagerId"`
	Bettor        string  `json:"bettor"`
	Winner        string  `json:"winner,omitempty"`
	Stake         string  `json:"stake"`
	Payout        string  `json:"payout"`
	Outcome       string  `json:"outcome"`
	TTLSeconds    *uint64 `json:"ttlSeconds,omitempty"`
}

type settlementWagerParams struct {
	WagerID string `json:"wagerId"`
}

type settlementOperationParams struct {
	OperationHash string `json:"operationHash"`
}

type settlementJSON struct {
	WagerID   string  `json:"wagerId"`
	Outcome   string  `json:"outcome"`
	Bettor    string  `json:"bettor"`
	Winner    *string `json:"winner,omitempty"`
	Payout    string  `json:"payout"`
	Timestamp uint64  `json:"timestamp"`
}

func settlementToJSON(record *settlement.Record) settlementJSON {
	out := settlementJSON{
		WagerID:   record.WagerID.String(),
		Outcome:   string(record.Outcome),
		Bettor:    formatAddress(record.Bettor),
		Payout:    record.Payout.String(),
		Timestamp: record.Timestamp,
	}
	if record.Winner != nil {
		winner := formatAddress(*record.Winner)
		out.Winner = &winner
	}
	return out
}

func (s *Server) handleSettlementInitialize(w http.ResponseWriter, req *RPCRequest) {
	var params settlementInitializeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	backend, err := parseAddress("backend", params.Backend)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.SettlementInitialize(backend); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSettlementSettle(w http.ResponseWriter, req *RPCRequest) {
	var params settlementSettleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	operationHash, err := parseHash32("operationHash", params.OperationHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	wagerID, err := parseWagerID(params.WagerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bettor, err := parseAddress("bettor", params.Bettor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var winner *[20]byte
	if params.Winner != "" {
		decoded, err := parseAddress("winner", params.Winner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		winner = &decoded
	}
	stake, err := parseAmount("stake", params.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payout, err := parseAmount("payout", params.Payout)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	outcome := settlement.Outcome(params.Outcome)
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidStatus, fmt.Sprintf("unknown outcome %q", params.Outcome), nil)
		return
	}
	record, err := s.node.SettlementSettle(caller, operationHash, wagerID, bettor, winner, stake, payout, outcome, params.TTLSeconds)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementToJSON(record))
}

func (s *Server) handleSettlementIsSettled(w http.ResponseWriter, req *RPCRequest) {
	var params settlementWagerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	wagerID, err := parseWagerID(params.WagerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, s.node.SettlementIsSettled(wagerID))
}

func (s *Server) handleSettlementGet(w http.ResponseWriter, req *RPCRequest) {
	var params settlementWagerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	wagerID, err := parseWagerID(params.WagerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, ok, err := s.node.SettlementGet(wagerID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, settlementToJSON(record))
}

func (s *Server) handleSettlementIsOperationExecuted(w http.ResponseWriter, req *RPCRequest) {
	hash, ok := s.decodeOperationHash(w, req)
	if !ok {
		return
	}
	writeResult(w, req.ID, s.node.SettlementIsOperationExecuted(hash))
}

func (s *Server) handleSettlementCleanupOperation(w http.ResponseWriter, req *RPCRequest) {
	hash, ok := s.decodeOperationHash(w, req)
	if !ok {
		return
	}
	writeResult(w, req.ID, s.node.SettlementCleanupOperation(hash))
}

func (s *Server) decodeOperationHash(w http.ResponseWriter, req *RPCRequest) ([32]byte, bool) {
	var params settlementOperationParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [32]byte{}, false
	}
	hash, err := parseHash32("operationHash", params.OperationHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [32]byte{}, false
	}
	return hash, true
}
