package model

// SyncState is the persisted per-scope cursor (§3 SyncState). Cursor == 0
// means bootstrap is required; Cursor is monotone non-decreasing for the
// lifetime of the scope.
type SyncState struct {
	ID         string
	Scope      Scope
	Cursor     uint64
	LastSyncAt int64 // ms, 0 means never synced
	DeviceID   string
}
