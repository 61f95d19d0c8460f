// Package storex specifies the transactional and indexed-query contract the
// sync engine needs from the local embedded key/document store (spec §1
// Out of scope / §6 Persisted local tables). The physical layout of
// application records is owned by the host; this package only names the
// shape the engine depends on: multi-table transactions, write-event
// subscription, and a handful of indexed lookups over pending_ops,
// tombstones, and sync_state.
package storex

import (
	"context"

	"github.com/driftsync/engine/internal/domain/model"
)

// Tx is a single multi-table transaction. Every WriteCaptureBridge
// interception and every ConflictResolver.applyChanges call runs inside
// exactly one Tx (§4.4, §4.6, §5 Serialization contracts).
type Tx interface {
	// Identity returns a value that compares equal (==) for every wrapper
	// built around the same underlying native transaction handle. The
	// capture bridge's sync-applied suppression set keys on this (§4.4,
	// §9 design notes).
	Identity() any

	GetRecord(table, pk string) (model.RecordMeta, []byte, bool, error)
	PutRecord(table, pk string, meta model.RecordMeta, payload []byte) error

	GetTombstone(table, pk string) (model.Tombstone, bool, error)
	PutTombstone(model.Tombstone) error
	DeleteTombstone(table, pk string) error

	GetPendingOp(id string) (model.PendingOp, bool, error)
	PutPendingOp(model.PendingOp) error
	DeletePendingOp(id string) error

	GetSyncState(id string) (model.SyncState, bool, error)
	PutSyncState(model.SyncState) error
}

// WriteEvent describes one write the host store observed, handed to the
// WriteCaptureBridge's listener (§4.4).
type WriteEvent struct {
	Table   string
	Op      model.OpKind
	PK      string
	Payload []byte // present iff Op == OpPut
}

// Store is the contract the engine depends on. It has no method for
// reporting whether a transaction also covers pending_ops (and tombstones
// for deletes); the capture bridge reports a failure to persist them as
// ErrNonAtomicCapture.
type Store interface {
	// View runs fn inside a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn inside a read-write transaction, committing iff fn
	// returns nil.
	Update(ctx context.Context, fn func(Tx) error) error

	// OnWrite registers a listener invoked synchronously, inside the
	// originating transaction, for every write to one of the given tables.
	OnWrite(tables []string, fn func(Tx, WriteEvent) error)

	// QueryPendingOps returns up to limit pending_ops ordered by
	// createdAt ascending, optionally filtered by status.
	QueryPendingOps(ctx context.Context, status model.PendingStatus, limit int) ([]model.PendingOp, error)

	// QueryTombstonesBefore returns tombstones with deletedAt <= cutoff
	// (seconds).
	QueryTombstonesBefore(ctx context.Context, cutoff int64, limit int) ([]model.Tombstone, error)
}
