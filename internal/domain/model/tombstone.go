package model

import "fmt"

// Tombstone records that a (table, pk) was deleted, locally or remotely
// (§3 Tombstone). It exists iff the record was ever deleted; Clock is the
// clock of the latest observed delete.
type Tombstone struct {
	ID        string // "tableName:pk"
	TableName string
	PK        string
	DeletedAt int64 // seconds
	Clock     uint64
	SyncedAt  int64 // seconds, 0 means not yet synced
}

// TombstoneID builds the canonical tombstone row id for a (table, pk) pair.
func TombstoneID(table, pk string) string {
	return fmt.Sprintf("%s:%s", table, pk)
}

func (t Tombstone) Synced() bool { return t.SyncedAt != 0 }
