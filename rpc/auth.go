package rpc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature for the request.
	HeaderSignature = "X-Signature"

	defaultTimestampSkew = 2 * time.Minute
	defaultNonceWindow   = 10 * time.Minute
)

var (
	errMissingCredentials = errors.New("auth: missing credential headers")
	errUnknownAPIKey      = errors.New("auth: unknown api key")
	errStaleTimestamp     = errors.New("auth: timestamp outside allowed skew")
	errNonceReused        = errors.New("auth: nonce already used")
	errBadSignature       = errors.New("auth: signature mismatch")
)

// Authenticator verifies API key + HMAC signatures on incoming mutating
// requests. The signed payload is "timestamp\nnonce\nsha256(body)" so a
// captured request cannot be replayed with a different body, nonce, or
// timestamp.
type Authenticator struct {
	secrets map[string]string
	skew    time.Duration
	nowFn   func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]time.Time
}

// NewAuthenticator builds an Authenticator keyed by the provided secrets. The
// map should contain API key identifiers mapped to their shared secret.
func NewAuthenticator(secrets map[string]string, nowFn func() time.Time) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		key := strings.TrimSpace(k)
		secret := strings.TrimSpace(v)
		if key == "" || secret == "" {
			continue
		}
		cloned[key] = secret
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Authenticator{
		secrets: cloned,
		skew:    defaultTimestampSkew,
		nowFn:   nowFn,
		nonces:  make(map[string]time.Time),
	}
}

// Authenticate verifies the request headers against the shared secret of the
// presented API key.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) error {
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if apiKey == "" || timestamp == "" || nonce == "" || signature == "" {
		return errMissingCredentials
	}
	secret, ok := a.secrets[apiKey]
	if !ok {
		return errUnknownAPIKey
	}

	now := a.nowFn()
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errStaleTimestamp
	}
	delta := now.Sub(time.Unix(ts, 0))
	if delta < -a.skew || delta > a.skew {
		return errStaleTimestamp
	}

	expected := computeSignature(secret, timestamp, nonce, body)
	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(provided, expected) {
		return errBadSignature
	}

	if !a.recordNonce(apiKey, timestamp, nonce, now) {
		return errNonceReused
	}
	return nil
}

func computeSignature(secret, timestamp, nonce string, body []byte) []byte {
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write(digest[:])
	return mac.Sum(nil)
}

// recordNonce remembers the (key, timestamp, nonce) tuple for the replay
// window, returning false when it was already seen.
func (a *Authenticator) recordNonce(apiKey, timestamp, nonce string, now time.Time) bool {
	key := apiKey + "|" + timestamp + "|" + nonce
	cutoff := now.Add(-defaultNonceWindow)

	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	for seen, at := range a.nonces {
		if at.Before(cutoff) {
			delete(a.nonces, seen)
		}
	}
	if _, ok := a.nonces[key]; ok {
		return false
	}
	a.nonces[key] = now
	return true
}

// SignRequest computes the signature headers for a request body. It is used
// by the CLI client and tests; production backends hold the same secret.
func SignRequest(secret string, timestamp, nonce string, body []byte) string {
	return hex.EncodeToString(computeSignature(secret, timestamp, nonce, body))
}
