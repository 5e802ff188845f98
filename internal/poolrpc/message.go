// Package poolrpc carries pool submissions over HTTP. Every request is a
// Message envelope posted to /message; the reply is a Response.
package poolrpc

import (
	"encoding/json"
	"errors"

	"shieldpool/internal/pool"
)

// Message types.
const (
	TypeDeposit  = "deposit"
	TypeWithdraw = "withdraw"
	TypeStatus   = "status"
)

// Message is the envelope for every request.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId"`
}

// Response is the reply to a Message. Code names the pool error on failure.
type Response struct {
	OK     bool         `json:"ok"`
	TxID   string       `json:"txId,omitempty"`
	Status *pool.Status `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
	Code   string       `json:"code,omitempty"`
}

// ErrRateLimited is returned when the server throttles the sender.
var ErrRateLimited = errors.New("poolrpc: rate limited")

var codes = []struct {
	code string
	err  error
}{
	{"pool_paused", pool.ErrPoolPaused},
	{"unknown_root", pool.ErrUnknownRoot},
	{"stale_root", pool.ErrStaleRoot},
	{"leaf_index_mismatch", pool.ErrLeafIndexMismatch},
	{"nullifier_used", pool.ErrNullifierUsed},
	{"invalid_proof", pool.ErrInvalidProof},
	{"insufficient_pool_balance", pool.ErrInsufficientPoolBalance},
	{"overflow", pool.ErrOverflow},
	{"circuit_mismatch", pool.ErrCircuitMismatch},
	{"invalid_submission", pool.ErrInvalidSubmission},
	{"rate_limited", ErrRateLimited},
}

func codeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

func errorOf(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
