package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wagercore/core"
	"wagercore/native/idempotency"
	"wagercore/native/ledger"
	"wagercore/native/settlement"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeAlreadyInitialized       = -32040
	codeInvalidAmount            = -32041
	codeInsufficientWithdrawable = -32042
	codeInsufficientLocked       = -32043
	codeOverflow                 = -32044
	codeDuplicateOperation       = -32050
	codeBetAlreadySettled        = -32051
	codeInvalidBet               = -32052
	codeInvalidStatus            = -32053
)

// Server exposes the accounting core's entry points over JSON-RPC. Mutating
// methods additionally require backend HMAC authentication; read accessors
// are open.
type Server struct {
	node *core.Node
	auth *Authenticator
}

// NewServer wires the RPC surface to the node. The authenticator may be nil,
// in which case every mutating call is rejected.
func NewServer(node *core.Node, auth *Authenticator) *Server {
	return &Server{node: node, auth: auth}
}

// Router returns the HTTP handler serving the JSON-RPC endpoint alongside the
// Prometheus metrics and health endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps engine sentinels onto stable RPC error codes.
func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	code := codeServerError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, settlement.ErrUnauthorized):
		code, status = codeUnauthorized, http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		code, status = codeAlreadyInitialized, http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount):
		code, status = codeInvalidAmount, http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientWithdrawable):
		code, status = codeInsufficientWithdrawable, http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientLocked):
		code, status = codeInsufficientLocked, http.StatusConflict
	case errors.Is(err, ledger.ErrOverflow):
		code, status = codeOverflow, http.StatusConflict
	case errors.Is(err, idempotency.ErrDuplicateOperation):
		code, status = codeDuplicateOperation, http.StatusConflict
	case errors.Is(err, settlement.ErrBetAlreadySettled):
		code, status = codeBetAlreadySettled, http.StatusConflict
	case errors.Is(err, settlement.ErrInvalidBet):
		code, status = codeInvalidBet, http.StatusBadRequest
	case errors.Is(err, settlement.ErrInvalidStatus):
		code, status = codeInvalidStatus, http.StatusBadRequest
	}
	writeError(w, status, id, code, err.Error(), nil)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if mutating(req.Method) {
		if authErr := s.requireAuth(r, body); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case "ledger_initialize":
		s.handleLedgerInitialize(w, req)
	case "ledger_setBalance":
		s.handleLedgerSetBalance(w, req)
	case "ledger_applyDelta":
		s.handleLedgerApplyDelta(w, req)
	case "ledger_lock":
		s.handleLedgerLock(w, req)
	case "ledger_unlock":
		s.handleLedgerUnlock(w, req)
	case "ledger_getBalance":
		s.handleLedgerGetBalance(w, req)
	case "ledger_getWithdrawable":
		s.handleLedgerGetWithdrawable(w, req)
	case "ledger_getLocked":
		s.handleLedgerGetLocked(w, req)
	case "ledger_getTotal":
		s.handleLedgerGetTotal(w, req)
	case "ledger_recordMetrics":
		s.handleLedgerRecordMetrics(w, req)
	case "ledger_getMetrics":
		s.handleLedgerGetMetrics(w, req)
	case "settlement_initialize":
		s.handleSettlementInitialize(w, req)
	case "settlement_settle":
		s.handleSettlementSettle(w, req)
	case "settlement_isSettled":
		s.handleSettlementIsSettled(w, req)
	case "settlement_getSettlement":
		s.handleSettlementGet(w, req)
	case "settlement_isOperationExecuted":
		s.handleSettlementIsOperationExecuted(w, req)
	case "settlement_cleanupOperation":
		s.handleSettlementCleanupOperation(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// mutating reports whether the method changes state and therefore requires
// backend authentication. Initialization is deliberately open: it is a
// one-time bootstrap call and the engines enforce their own init semantics.
func mutating(method string) bool {
	switch method {
	case "ledger_setBalance", "ledger_applyDelta", "ledger_lock", "ledger_unlock",
		"ledger_recordMetrics", "settlement_settle":
		return true
	default:
		return false
	}
}

func (s *Server) requireAuth(r *http.Request, body []byte) *RPCError {
	if s.auth == nil {
		return &RPCError{Code: codeUnauthorized, Message: "backend authentication not configured"}
	}
	if err := s.auth.Authenticate(r, body); err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid backend credentials", Data: err.Error()}
	}
	return nil
}
