package mapping

import "time"

// MeshRun records one completed mesh regeneration cycle.
type MeshRun struct {
	ID        int64
	Kind      string // "incremental" or "full"
	StartedAt time.Time
	Duration  time.Duration
	Blocks    int
	Vertices  int
	Published bool
	// Exported is nil when no export was attempted on this cycle.
	Exported *bool
}

// MapSnapshot records one map save or load event.
type MapSnapshot struct {
	ID       int64
	Kind     string // "save" or "load"
	Path     string
	Strategy string // load merge strategy, empty for saves
	Blocks   int
	Success  bool
	At       time.Time
}

// RunStore persists mesh cycle and map snapshot records. Implemented by
// the sqlite store; a nil store disables recording. Store failures are
// logged and never affect pipeline behavior.
type RunStore interface {
	InsertMeshRun(run *MeshRun) (int64, error)
	InsertMapSnapshot(snap *MapSnapshot) (int64, error)
}
