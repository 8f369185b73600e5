package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"wagercore/core"
	"wagercore/crypto"
	"wagercore/storage"
)

const (
	testAPIKey = "backend-1"
	testSecret = "super-secret"
)

type rpcFixture struct {
	handler http.Handler
	now     time.Time
	nonce   int
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	now := time.Unix(1_724_000_000, 0)
	node := core.NewNode(storage.NewMemDB(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	node.SetNowFunc(func() uint64 { return uint64(now.Unix()) })
	auth := NewAuthenticator(map[string]string{testAPIKey: testSecret}, func() time.Time { return now })
	server := NewServer(node, auth)
	return &rpcFixture{handler: server.Router(), now: now}
}

func bech32Addr(t *testing.T, fill byte) string {
	t.Helper()
	raw := bytes.Repeat([]byte{fill}, 20)
	return crypto.NewAddress(crypto.WagerPrefix, raw).String()
}

func hashHex(fill byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{fill}, 32))
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}, signed bool) (*httptest.ResponseRecorder, *RPCResponse) {
	t.Helper()
	encoded, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{encoded},
		ID:      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signed {
		f.nonce++
		timestamp := strconv.FormatInt(f.now.Unix(), 10)
		nonce := fmt.Sprintf("nonce-%d", f.nonce)
		req.Header.Set(HeaderAPIKey, testAPIKey)
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderNonce, nonce)
		req.Header.Set(HeaderSignature, SignRequest(testSecret, timestamp, nonce, body))
	}

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, req)

	resp := &RPCResponse{}
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return recorder, resp
}

func (f *rpcFixture) mustCall(t *testing.T, method string, params interface{}, signed bool) *RPCResponse {
	t.Helper()
	recorder, resp := f.call(t, method, params, signed)
	if resp.Error != nil {
		t.Fatalf("%s failed (%d): %+v", method, recorder.Code, resp.Error)
	}
	return resp
}

func resultInto(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestHTTPSettlementFlow(t *testing.T) {
	f := newRPCFixture(t)
	backend := bech32Addr(t, 0x01)
	alice := bech32Addr(t, 0xAA)
	bob := bech32Addr(t, 0xBB)

	f.mustCall(t, "ledger_initialize", ledgerInitializeParams{Backend: backend}, false)
	f.mustCall(t, "settlement_initialize", settlementInitializeParams{Backend: backend}, false)

	var balance balanceJSON
	resp := f.mustCall(t, "ledger_setBalance", ledgerSetBalanceParams{
		Caller: backend, User: alice, Withdrawable: "1000", Locked: "0",
	}, true)
	resultInto(t, resp, &balance)
	if balance.Withdrawable != "1000" || balance.Locked != "0" {
		t.Fatalf("set balance result = %+v", balance)
	}

	resp = f.mustCall(t, "ledger_lock", ledgerAmountParams{Caller: backend, User: alice, Amount: "100"}, true)
	resultInto(t, resp, &balance)
	if balance.Withdrawable != "900" || balance.Locked != "100" {
		t.Fatalf("lock result = %+v", balance)
	}

	var record settlementJSON
	resp = f.mustCall(t, "settlement_settle", settlementSettleParams{
		Caller:        backend,
		OperationHash: hashHex(0x10),
		WagerID:       "42",
		Bettor:        alice,
		Winner:        bob,
		Stake:         "100",
		Payout:        "200",
		Outcome:       "WIN",
	}, true)
	resultInto(t, resp, &record)
	if record.Outcome != "WIN" || record.Winner == nil || *record.Winner != bob {
		t.Fatalf("settle result = %+v", record)
	}

	resp = f.mustCall(t, "ledger_getWithdrawable", ledgerUserParams{User: bob}, false)
	if resp.Result != "200" {
		t.Fatalf("bob withdrawable = %v, want 200", resp.Result)
	}
	resp = f.mustCall(t, "ledger_getLocked", ledgerUserParams{User: alice}, false)
	if resp.Result != "0" {
		t.Fatalf("alice locked = %v, want 0", resp.Result)
	}
	resp = f.mustCall(t, "settlement_isSettled", settlementWagerParams{WagerID: "42"}, false)
	if resp.Result != true {
		t.Fatalf("isSettled = %v, want true", resp.Result)
	}
}

func TestHTTPDomainErrorCodes(t *testing.T) {
	f := newRPCFixture(t)
	backend := bech32Addr(t, 0x01)
	alice := bech32Addr(t, 0xAA)

	f.mustCall(t, "ledger_initialize", ledgerInitializeParams{Backend: backend}, false)
	f.mustCall(t, "settlement_initialize", settlementInitializeParams{Backend: backend}, false)
	f.mustCall(t, "ledger_setBalance", ledgerSetBalanceParams{
		Caller: backend, User: alice, Withdrawable: "0", Locked: "50",
	}, true)

	// Double ledger initialization maps to its dedicated code.
	recorder, resp := f.call(t, "ledger_initialize", ledgerInitializeParams{Backend: backend}, false)
	if resp.Error == nil || resp.Error.Code != codeAlreadyInitialized {
		t.Fatalf("expected code %d, got %+v (status %d)", codeAlreadyInitialized, resp.Error, recorder.Code)
	}

	// Negative amounts are rejected by the ledger, not the parser.
	_, resp = f.call(t, "ledger_lock", ledgerAmountParams{Caller: backend, User: alice, Amount: "-5"}, true)
	if resp.Error == nil || resp.Error.Code != codeInvalidAmount {
		t.Fatalf("expected code %d, got %+v", codeInvalidAmount, resp.Error)
	}

	settle := settlementSettleParams{
		Caller:        backend,
		OperationHash: hashHex(0x20),
		WagerID:       "7",
		Bettor:        alice,
		Stake:         "50",
		Payout:        "0",
		Outcome:       "LOSS",
	}
	f.mustCall(t, "settlement_settle", settle, true)

	// Replaying the operation hash maps to the duplicate-operation code.
	settle.WagerID = "8"
	_, resp = f.call(t, "settlement_settle", settle, true)
	if resp.Error == nil || resp.Error.Code != codeDuplicateOperation {
		t.Fatalf("expected code %d, got %+v", codeDuplicateOperation, resp.Error)
	}

	// Fresh hash, same wager.
	settle.WagerID = "7"
	settle.OperationHash = hashHex(0x21)
	_, resp = f.call(t, "settlement_settle", settle, true)
	if resp.Error == nil || resp.Error.Code != codeBetAlreadySettled {
		t.Fatalf("expected code %d, got %+v", codeBetAlreadySettled, resp.Error)
	}
}

func TestHTTPMutatingMethodsRequireAuth(t *testing.T) {
	f := newRPCFixture(t)
	backend := bech32Addr(t, 0x01)
	alice := bech32Addr(t, 0xAA)

	f.mustCall(t, "ledger_initialize", ledgerInitializeParams{Backend: backend}, false)

	recorder, resp := f.call(t, "ledger_setBalance", ledgerSetBalanceParams{
		Caller: backend, User: alice, Withdrawable: "1", Locked: "0",
	}, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected code %d, got %+v", codeUnauthorized, resp.Error)
	}

	// Reads stay open.
	f.mustCall(t, "ledger_getBalance", ledgerUserParams{User: alice}, false)
}

func TestHTTPRejectsMalformedRequests(t *testing.T) {
	f := newRPCFixture(t)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	f.handler.ServeHTTP(recorder, req)
	resp := &RPCResponse{}
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}

	_, resp = f.call(t, "no_suchMethod", struct{}{}, false)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}

	_, resp = f.call(t, "ledger_getBalance", ledgerUserParams{User: "not-an-address"}, false)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestHTTPHealthEndpoint(t *testing.T) {
	f := newRPCFixture(t)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", recorder.Code)
	}
}
