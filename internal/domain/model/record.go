package model

// RecordMeta is the sync metadata every synced application row carries
// alongside its opaque payload (§3 Record). The primary-key field name
// itself is a property of the table (id vs hash, see TableSpec) and is not
// modelled here — callers address records by the PK string value.
type RecordMeta struct {
	Clock     uint64
	HLC       string
	Deleted   bool
	DeletedAt int64 // seconds, 0 if not deleted
	OrderKey  string
}

// ApplyChangesResult is the return value of ConflictResolver.applyChanges
// (§4.6, §8 invariant 3). Applied/Skipped/Conflicts are batch-scoped
// counters, not per-key — a single call can touch many keys.
type ApplyChangesResult struct {
	Applied   int
	Skipped   int
	Conflicts []Conflict
}

// ConflictWinner identifies which side's write survived a tie-break.
type ConflictWinner string

const (
	WinnerLocal  ConflictWinner = "local"
	WinnerRemote ConflictWinner = "remote"
)

// Conflict describes one detected LWW collision, delivered as an
// observability hook only after the enclosing transaction commits (§4.6,
// §9 design notes — side effects never fire from inside the transaction).
type Conflict struct {
	TableName string
	PK        string
	Winner    ConflictWinner
	Local     RecordMeta
	Remote    SyncChange
}
