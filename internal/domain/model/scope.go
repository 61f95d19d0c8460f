package model

import "fmt"

// Scope identifies an independent sync domain. ProjectID is optional; scopes
// with and without a project never interleave (§3, §1 Non-goals: no
// cross-scope causal consistency).
type Scope struct {
	WorkspaceID string `json:"workspaceId"`
	ProjectID   string `json:"projectId,omitempty"` // empty means workspace-wide
}

// Key returns a stable string identity for the scope, used as a map/cache
// key and as the circuit breaker's prefix.
func (s Scope) Key() string {
	if s.ProjectID == "" {
		return s.WorkspaceID
	}
	return s.WorkspaceID + ":" + s.ProjectID
}

func (s Scope) String() string { return s.Key() }

// SyncStateID returns the persisted sync_state row id for this scope.
func (s Scope) SyncStateID() string {
	if s.ProjectID == "" {
		return fmt.Sprintf("sync_state:%s", s.WorkspaceID)
	}
	return fmt.Sprintf("sync_state:%s:%s", s.WorkspaceID, s.ProjectID)
}
