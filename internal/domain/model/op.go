package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpKind is the sum type discriminant for a write. Modelling it as a closed
// set (instead of a free-form string) forces exhaustive handling wherever a
// PendingOp or SyncChange is dispatched — the resolver and outbox switch on
// it and the compiler flags a missing case.
type OpKind int8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalJSON renders OpKind as the §6 wire contract's "put"/"delete"
// string rather than its internal int8 value.
func (k OpKind) MarshalJSON() ([]byte, error) {
	switch k {
	case OpPut:
		return []byte(`"put"`), nil
	case OpDelete:
		return []byte(`"delete"`), nil
	default:
		return nil, fmt.Errorf("model: invalid OpKind %d", k)
	}
}

// UnmarshalJSON accepts the §6 wire contract's "put"/"delete" string.
func (k *OpKind) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"put"`:
		*k = OpPut
	case `"delete"`:
		*k = OpDelete
	default:
		return fmt.Errorf("model: invalid op kind %s", data)
	}
	return nil
}

// Stamp carries the origin and ordering metadata for a single write. It is
// attached to both the outgoing PendingOp and the wire-level SyncChange so
// echo suppression (§4.2) can match on OpID alone.
type Stamp struct {
	DeviceID string    `json:"deviceId"`
	OpID     uuid.UUID `json:"opId"`
	HLC      string    `json:"hlc"`
	Clock    uint64    `json:"clock"`
}

// PendingStatus is the PendingOp lifecycle state (§3 PendingOp).
type PendingStatus int8

const (
	StatusPending PendingStatus = iota + 1
	StatusSyncing
	StatusFailed
)

func (s PendingStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSyncing:
		return "syncing"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders PendingStatus as the §3 wire contract's
// "pending"/"syncing"/"failed" string rather than its internal int8 value.
func (s PendingStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case StatusPending:
		return []byte(`"pending"`), nil
	case StatusSyncing:
		return []byte(`"syncing"`), nil
	case StatusFailed:
		return []byte(`"failed"`), nil
	default:
		return nil, fmt.Errorf("model: invalid PendingStatus %d", s)
	}
}

// UnmarshalJSON accepts the §3 wire contract's status strings.
func (s *PendingStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"pending"`:
		*s = StatusPending
	case `"syncing"`:
		*s = StatusSyncing
	case `"failed"`:
		*s = StatusFailed
	default:
		return fmt.Errorf("model: invalid pending status %s", data)
	}
	return nil
}

// PendingOp is a durable, not-yet-acknowledged local write (§3 PendingOp).
// Payload is present iff Kind == OpPut. Field names/tags follow §3's wire
// shape (`operation`, not the Go-side `Kind`) since a sanitized PendingOp is
// itself sent as part of the push request body (§6).
type PendingOp struct {
	ID            uuid.UUID     `json:"id"`
	TableName     string        `json:"tableName"`
	Kind          OpKind        `json:"operation"`
	PK            string        `json:"pk"`
	Payload       []byte        `json:"payload,omitempty"`
	Stamp         Stamp         `json:"stamp"`
	CreatedAt     int64         `json:"createdAt"` // ms
	Attempts      uint32        `json:"attempts"`
	Status        PendingStatus `json:"status"`
	NextAttemptAt int64         `json:"nextAttemptAt,omitempty"` // ms, 0 means unset
}

// NowMs returns the current wall clock in epoch milliseconds. Centralized so
// every component reads time the same way and tests can substitute it.
func NowMs() int64 { return time.Now().UnixMilli() }

// NowSec returns the current wall clock in epoch seconds.
func NowSec() int64 { return time.Now().Unix() }
