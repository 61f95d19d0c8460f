// Package resolver implements the ConflictResolver: applying a batch of
// remote SyncChanges under LWW + HLC tie-break, respecting tombstones
// (spec §4.6).
package resolver

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/driftsync/engine/internal/domain/hlc"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/jsonx"
)

// Suppressor marks/unmarks a transaction identity as sync-applied so the
// WriteCaptureBridge does not re-capture the resolver's own writes (§4.4,
// §4.6). capture.Bridge satisfies this.
type Suppressor interface {
	Suppress(identity any)
	Unsuppress(identity any)
}

// Hooks receives observability events. Conflict hooks fire only after the
// enclosing transaction commits (§4.6 — "emitting during the transaction
// can cause premature commit in some stores").
type Hooks interface {
	ConflictDetected(model.Conflict)
}

type noopHooks struct{}

func (noopHooks) ConflictDetected(model.Conflict) {}

// Normalizer applies table-specific payload normalization before a put is
// persisted (§6). The default is the identity function.
type Normalizer func(table string, payload []byte) ([]byte, error)

func identityNormalizer(_ string, payload []byte) ([]byte, error) { return payload, nil }

type Resolver struct {
	store      storex.Store
	suppressor Suppressor
	hooks      Hooks
	normalize  Normalizer
}

type Option func(*Resolver)

func WithHooks(h Hooks) Option           { return func(r *Resolver) { r.hooks = h } }
func WithNormalizer(n Normalizer) Option { return func(r *Resolver) { r.normalize = n } }

func New(store storex.Store, suppressor Suppressor, opts ...Option) *Resolver {
	r := &Resolver{store: store, suppressor: suppressor, hooks: noopHooks{}, normalize: identityNormalizer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyChanges is the resolver's single public operation (§4.6). It is
// atomic over the affected tables plus tombstones; the transaction is
// marked sync-applied so capture is suppressed. The caller (subscription
// manager) is responsible for filtering echoed op-ids upstream — the
// resolver trusts its input.
func (r *Resolver) ApplyChanges(ctx context.Context, changes []model.SyncChange) (model.ApplyChangesResult, error) {
	var (
		result    model.ApplyChangesResult
		conflicts []model.Conflict
		applyErr  *multierror.Error
	)

	err := r.store.Update(ctx, func(tx storex.Tx) error {
		r.suppressor.Suppress(tx.Identity())
		defer r.suppressor.Unsuppress(tx.Identity())

		for _, change := range changes {
			outcome, conflict, err := r.applyOne(tx, change)
			if err != nil {
				applyErr = multierror.Append(applyErr, fmt.Errorf("%s/%s: %w", change.TableName, change.PK, err))
				continue
			}
			switch outcome {
			case outcomeApplied:
				result.Applied++
			case outcomeSkipped:
				result.Skipped++
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
			}
		}
		return applyErr.ErrorOrNil()
	})
	if err != nil {
		return model.ApplyChangesResult{}, err
	}

	result.Conflicts = conflicts
	for _, c := range conflicts {
		r.hooks.ConflictDetected(c)
	}
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeApplied
)

func (r *Resolver) applyOne(tx storex.Tx, change model.SyncChange) (outcome, *model.Conflict, error) {
	payload := change.Payload
	var err error
	if change.Op == model.OpPut {
		payload, err = r.normalize(change.TableName, payload)
		if err != nil {
			return outcomeSkipped, nil, err
		}
	}

	tomb, tombFound, err := tx.GetTombstone(change.TableName, change.PK)
	if err != nil {
		return outcomeSkipped, nil, err
	}
	localMeta, _, recordFound, err := tx.GetRecord(change.TableName, change.PK)
	if err != nil {
		return outcomeSkipped, nil, err
	}

	switch change.Op {
	case model.OpPut:
		return r.applyPut(tx, change, payload, localMeta, recordFound, tomb, tombFound)
	case model.OpDelete:
		return r.applyDelete(tx, change, localMeta, recordFound, tomb, tombFound)
	default:
		return outcomeSkipped, nil, fmt.Errorf("resolver: unknown op kind %v", change.Op)
	}
}

func (r *Resolver) applyPut(tx storex.Tx, change model.SyncChange, payload []byte, local model.RecordMeta, recordFound bool, tomb model.Tombstone, tombFound bool) (outcome, *model.Conflict, error) {
	if tombFound && tomb.Clock >= change.Stamp.Clock {
		return outcomeSkipped, nil, nil
	}

	if !recordFound {
		meta := model.RecordMeta{Clock: change.Stamp.Clock, HLC: change.Stamp.HLC}
		if err := tx.PutRecord(change.TableName, change.PK, meta, payload); err != nil {
			return outcomeSkipped, nil, err
		}
		if tombFound && tomb.Clock < change.Stamp.Clock {
			if err := tx.DeleteTombstone(change.TableName, change.PK); err != nil {
				return outcomeSkipped, nil, err
			}
		}
		return outcomeApplied, nil, nil
	}

	switch {
	case change.Stamp.Clock > local.Clock:
		meta := model.RecordMeta{Clock: change.Stamp.Clock, HLC: change.Stamp.HLC}
		if err := tx.PutRecord(change.TableName, change.PK, meta, payload); err != nil {
			return outcomeSkipped, nil, err
		}
		if tombFound && tomb.Clock < change.Stamp.Clock {
			if err := tx.DeleteTombstone(change.TableName, change.PK); err != nil {
				return outcomeSkipped, nil, err
			}
		}
		return outcomeApplied, nil, nil

	case change.Stamp.Clock == local.Clock:
		switch cmp := hlc.Compare(change.Stamp.HLC, local.HLC); {
		case cmp > 0:
			meta := model.RecordMeta{Clock: change.Stamp.Clock, HLC: change.Stamp.HLC}
			if err := tx.PutRecord(change.TableName, change.PK, meta, payload); err != nil {
				return outcomeSkipped, nil, err
			}
			conflict := model.Conflict{TableName: change.TableName, PK: change.PK, Winner: model.WinnerRemote, Local: local, Remote: change}
			return outcomeApplied, &conflict, nil
		case cmp == 0:
			return outcomeSkipped, nil, nil
		default:
			conflict := model.Conflict{TableName: change.TableName, PK: change.PK, Winner: model.WinnerLocal, Local: local, Remote: change}
			return outcomeSkipped, &conflict, nil
		}

	default: // remote.clock < local.clock
		return outcomeSkipped, nil, nil
	}
}

func (r *Resolver) applyDelete(tx storex.Tx, change model.SyncChange, local model.RecordMeta, recordFound bool, tomb model.Tombstone, tombFound bool) (outcome, *model.Conflict, error) {
	if !recordFound {
		if err := r.writeTombstone(tx, change.TableName, change.PK, change.Stamp.Clock, tomb, tombFound); err != nil {
			return outcomeSkipped, nil, err
		}
		return outcomeSkipped, nil, nil
	}
	if local.Deleted {
		if err := r.writeTombstone(tx, change.TableName, change.PK, change.Stamp.Clock, tomb, tombFound); err != nil {
			return outcomeSkipped, nil, err
		}
		return outcomeSkipped, nil, nil
	}

	applyDeleteRecord := func() error {
		meta := model.RecordMeta{
			Clock:     change.Stamp.Clock,
			HLC:       change.Stamp.HLC,
			Deleted:   true,
			DeletedAt: deletedAtFromPayload(change.Payload),
		}
		if meta.DeletedAt == 0 {
			meta.DeletedAt = model.NowSec()
		}
		return tx.PutRecord(change.TableName, change.PK, meta, nil)
	}

	switch {
	case change.Stamp.Clock > local.Clock:
		if err := applyDeleteRecord(); err != nil {
			return outcomeSkipped, nil, err
		}
		if err := r.writeTombstone(tx, change.TableName, change.PK, change.Stamp.Clock, tomb, tombFound); err != nil {
			return outcomeSkipped, nil, err
		}
		return outcomeApplied, nil, nil

	case change.Stamp.Clock == local.Clock:
		switch cmp := hlc.Compare(change.Stamp.HLC, local.HLC); {
		case cmp > 0:
			if err := applyDeleteRecord(); err != nil {
				return outcomeSkipped, nil, err
			}
			if err := r.writeTombstone(tx, change.TableName, change.PK, change.Stamp.Clock, tomb, tombFound); err != nil {
				return outcomeSkipped, nil, err
			}
			conflict := model.Conflict{TableName: change.TableName, PK: change.PK, Winner: model.WinnerRemote, Local: local, Remote: change}
			return outcomeApplied, &conflict, nil
		case cmp == 0:
			// exact-duplicate delete: same fact observed twice, not a
			// conflict (§9 Open Question 1, resolved).
			return outcomeSkipped, nil, nil
		default:
			conflict := model.Conflict{TableName: change.TableName, PK: change.PK, Winner: model.WinnerLocal, Local: local, Remote: change}
			return outcomeSkipped, &conflict, nil
		}

	default:
		return outcomeSkipped, nil, nil
	}
}

// writeTombstone stores a tombstone only if no existing one already has
// clock >= newClock (§4.6 tombstone write policy).
func (r *Resolver) writeTombstone(tx storex.Tx, table, pk string, newClock uint64, existing model.Tombstone, existingFound bool) error {
	if existingFound && existing.Clock >= newClock {
		return nil
	}
	return tx.PutTombstone(model.Tombstone{
		ID:        model.TombstoneID(table, pk),
		TableName: table,
		PK:        pk,
		DeletedAt: model.NowSec(),
		Clock:     newClock,
	})
}

func deletedAtFromPayload(payload []byte) int64 {
	if len(payload) == 0 {
		return 0
	}
	var v struct {
		DeletedAt int64 `json:"deleted_at"`
	}
	if err := jsonx.Unmarshal(payload, &v); err != nil {
		return 0
	}
	return v.DeletedAt
}
