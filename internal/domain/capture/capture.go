// Package capture implements the WriteCaptureBridge: it turns a local store
// write into a durable PendingOp (and, for deletes, a Tombstone) inside the
// same transaction as the originating write (spec §4.4).
package capture

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/driftsync/engine/internal/domain/hlc"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
)

// Hooks receives observability events fired by the bridge. The dashboard
// wires its own implementation; tests can supply a no-op or recording one.
type Hooks interface {
	OpCaptured(op model.PendingOp)
}

type noopHooks struct{}

func (noopHooks) OpCaptured(model.PendingOp) {}

// Sanitizer strips oversized or local-only fields from a payload before it
// is persisted into a pending op (§4.4, §6). The default is the identity
// function; hosts register table-aware rules.
type Sanitizer func(table string, payload []byte) ([]byte, error)

func identitySanitizer(_ string, payload []byte) ([]byte, error) { return payload, nil }

// Bridge is the WriteCaptureBridge. It is registered against a storex.Store
// for the tables named in the registry and suppresses capture for
// transactions explicitly marked sync-applied (ConflictResolver writes).
type Bridge struct {
	clock    *hlc.Clock
	tables   *model.TableRegistry
	hooks    Hooks
	sanitize Sanitizer

	mu       sync.Mutex
	suppress map[any]struct{}
}

type Option func(*Bridge)

func WithHooks(h Hooks) Option         { return func(b *Bridge) { b.hooks = h } }
func WithSanitizer(s Sanitizer) Option { return func(b *Bridge) { b.sanitize = s } }

func New(clock *hlc.Clock, tables *model.TableRegistry, opts ...Option) *Bridge {
	b := &Bridge{
		clock:    clock,
		tables:   tables,
		hooks:    noopHooks{},
		sanitize: identitySanitizer,
		suppress: make(map[any]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Suppress marks a transaction identity as sync-applied: writes made
// through it will not be re-captured. The ConflictResolver calls this
// before replaying remote changes (§4.4, §4.6).
func (b *Bridge) Suppress(identity any) {
	b.mu.Lock()
	b.suppress[identity] = struct{}{}
	b.mu.Unlock()
}

// Unsuppress removes a transaction identity from the sync-applied set.
// Callers should do this once the transaction concludes, since identities
// may be reused across transactions by some stores.
func (b *Bridge) Unsuppress(identity any) {
	b.mu.Lock()
	delete(b.suppress, identity)
	b.mu.Unlock()
}

func (b *Bridge) isSuppressed(identity any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.suppress[identity]
	return ok
}

// clockOf extracts the clock field from a raw JSON payload without
// depending on the full application record shape.
func clockOf(payload []byte) (uint64, error) {
	var v struct {
		Clock uint64 `json:"clock"`
	}
	if err := unmarshalClock(payload, &v); err != nil {
		return 0, err
	}
	return v.Clock, nil
}

// OnWriteListener returns the storex.Store.OnWrite callback for this
// bridge, wired to the given list of tables by the caller (typically the
// full table registry's table names).
func (b *Bridge) OnWriteListener() func(storex.Tx, storex.WriteEvent) error {
	return b.Intercept
}

// Intercept is the contract per intercepted write (tx, table, op, pk,
// payload) described in §4.4. It is invoked synchronously inside the
// originating transaction.
func (b *Bridge) Intercept(tx storex.Tx, ev storex.WriteEvent) error {
	if b.isSuppressed(tx.Identity()) {
		return nil
	}
	if !b.tables.ShouldCapture(ev.Table, ev.PK) {
		return nil
	}

	spec, ok := b.tables.Spec(ev.Table)
	if !ok {
		return nil
	}

	var (
		payload []byte
		clock   uint64
		err     error
	)
	switch ev.Op {
	case model.OpPut:
		payload, err = b.sanitize(ev.Table, ev.Payload)
		if err != nil {
			return err
		}
		if len(payload) > model.MaxPayloadBytes {
			return model.ErrPayloadTooLarge
		}
		clock, err = clockOf(payload)
		if err != nil {
			return err
		}
		if spec.NeedsOrder {
			payload, err = ensureOrderKey(payload, b.clock)
			if err != nil {
				return err
			}
		}
	case model.OpDelete:
		_, existing, found, err := tx.GetRecord(ev.Table, ev.PK)
		if err != nil {
			return err
		}
		var localClock uint64
		if found {
			localClock, _ = clockOf(existing)
		}
		clock = localClock + 1
	default:
		return fmt.Errorf("capture: unknown op kind %v", ev.Op)
	}

	stampHLC := b.clock.Generate()
	op := model.PendingOp{
		ID:        uuid.New(),
		TableName: ev.Table,
		Kind:      ev.Op,
		PK:        ev.PK,
		CreatedAt: model.NowMs(),
		Status:    model.StatusPending,
		Stamp: model.Stamp{
			DeviceID: b.clock.DeviceID(),
			OpID:     uuid.New(),
			HLC:      stampHLC,
			Clock:    clock,
		},
	}
	if ev.Op == model.OpPut {
		op.Payload = payload
	}

	if err := tx.PutPendingOp(op); err != nil {
		return wrapNonAtomic(err)
	}

	if ev.Op == model.OpDelete {
		ts := model.Tombstone{
			ID:        model.TombstoneID(ev.Table, ev.PK),
			TableName: ev.Table,
			PK:        ev.PK,
			DeletedAt: model.NowSec(),
			Clock:     clock,
		}
		if existing, found, err := tx.GetTombstone(ev.Table, ev.PK); err == nil && found && existing.Clock >= clock {
			// a later or equal delete was already recorded; keep it
		} else if err != nil {
			return wrapNonAtomic(err)
		} else if err := tx.PutTombstone(ts); err != nil {
			return wrapNonAtomic(err)
		}
	}

	b.hooks.OpCaptured(op)
	return nil
}

// wrapNonAtomic signals that the store's transaction scope did not cover
// pending_ops/tombstones, per §4.4's atomicity requirement. Concretely this
// is any error returned while persisting the capture side effects, since a
// store that supports storex.Tx is assumed to include those tables in its
// transaction scope by construction; this wrapper exists so callers can
// errors.Is(err, model.ErrNonAtomicCapture) regardless of the underlying
// store's own error type.
func wrapNonAtomic(cause error) error {
	return fmt.Errorf("%w: %v", model.ErrNonAtomicCapture, cause)
}
