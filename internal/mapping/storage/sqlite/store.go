// Package sqlite persists mesh cycle runs and map snapshot events for
// observability. The store is optional everywhere it is consumed: a nil
// store disables recording without changing pipeline behavior.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/surface.report/internal/mapping"
)

//go:embed schema.sql
var schemaSQL string

// Store records mapping metadata in SQLite. Implements
// mapping.RunStore.
type Store struct {
	*sql.DB
}

// New opens (creating if needed) the metadata database at path. Use
// ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize mapping schema: %w", err)
	}
	log.Println("initialized mapping metadata schema")
	return &Store{db}, nil
}

// InsertMeshRun persists one mesh cycle record and returns its row id.
func (s *Store) InsertMeshRun(run *mapping.MeshRun) (int64, error) {
	if run == nil {
		return 0, nil
	}
	var exported any
	if run.Exported != nil {
		exported = boolToInt(*run.Exported)
	}
	res, err := s.Exec(`INSERT INTO mesh_runs
		(run_uuid, kind, started_unix_nanos, duration_nanos, blocks, vertices, published, exported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), run.Kind, run.StartedAt.UnixNano(), run.Duration.Nanoseconds(),
		run.Blocks, run.Vertices, boolToInt(run.Published), exported)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertMapSnapshot persists one save/load event and returns its row id.
func (s *Store) InsertMapSnapshot(snap *mapping.MapSnapshot) (int64, error) {
	if snap == nil {
		return 0, nil
	}
	res, err := s.Exec(`INSERT INTO map_snapshots
		(kind, path, strategy, blocks, success, at_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Kind, snap.Path, snap.Strategy, snap.Blocks, boolToInt(snap.Success), snap.At.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMeshRuns returns the most recent mesh cycle records, newest
// first.
func (s *Store) RecentMeshRuns(limit int) ([]mapping.MeshRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`SELECT id, kind, started_unix_nanos, duration_nanos,
		blocks, vertices, published, exported
		FROM mesh_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mapping.MeshRun
	for rows.Next() {
		var run mapping.MeshRun
		var startedNs, durationNs int64
		var published int
		var exported sql.NullInt64
		if err := rows.Scan(&run.ID, &run.Kind, &startedNs, &durationNs,
			&run.Blocks, &run.Vertices, &published, &exported); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, startedNs)
		run.Duration = time.Duration(durationNs)
		run.Published = published != 0
		if exported.Valid {
			v := exported.Int64 != 0
			run.Exported = &v
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
