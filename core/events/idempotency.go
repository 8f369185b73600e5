package events

import (
	"encoding/hex"

	"wagercore/core/types"
)

// TypeReplayRejected signals that a guarded operation was re-submitted while
// its execution record was still live.
const TypeReplayRejected = "idempotency.replayRejected"

// ReplayRejected identifies the scope and operation hash of a rejected replay.
type ReplayRejected struct {
	Scope         string
	OperationHash [32]byte
	Timestamp     uint64
}

// EventType satisfies the Event interface.
func (ReplayRejected) EventType() string { return TypeReplayRejected }

// Event converts the structured payload into a broadcastable event.
func (e ReplayRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeReplayRejected,
		Attributes: map[string]string{
			"scope":         e.Scope,
			"operationHash": hex.EncodeToString(e.OperationHash[:]),
			"timestamp":     uintToString(e.Timestamp),
		},
	}
}
