// Package storage persists flow runs. Every accepted iteration is appended
// to a log; a snapshot for iteration j supersedes all earlier-written
// snapshots with iteration >= j, so a resumed run overwrites the tail of
// the run it was resumed from.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/flowode/internal/dynamo"
)

var (
	ErrRunNotFound      = errors.New("storage: run not found")
	ErrSnapshotNotFound = errors.New("storage: snapshot not found")
)

type RunMetadata struct {
	ID          string             `json:"id"`
	Problem     string             `json:"problem"`
	Method      string             `json:"method"`
	Grid        string             `json:"grid"`
	Timestamp   time.Time          `json:"timestamp"`
	LambdaI     float64            `json:"lambda_i"`
	LambdaF     float64            `json:"lambda_f"`
	Checkpoints []float64          `json:"checkpoints,omitempty"`
	Status      string             `json:"status"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	// Config is the YAML run configuration the run was started with.
	Config string `json:"config,omitempty"`
}

// Run is one persisted flow. It satisfies sim.Recorder.
type Run interface {
	ID() string
	Meta() (RunMetadata, error)
	UpdateMeta(meta RunMetadata) error
	Append(s dynamo.Snapshot) error
	// Latest returns the snapshot with the largest iteration.
	Latest() (dynamo.Snapshot, error)
	Snapshot(iteration int) (dynamo.Snapshot, error)
	Snapshots() ([]dynamo.Snapshot, error)
	// Trace returns the λ of every live snapshot indexed by iteration.
	Trace() ([]float64, error)
	Close() error
}

type Backend interface {
	Init() error
	Create(meta RunMetadata) (Run, error)
	Open(id string) (Run, error)
	List() ([]RunMetadata, error)
	Close() error
}

// Open returns the backend of the given kind rooted at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "file", "":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (available: file, sqlite)", kind)
	}
}

func newRunID(problem string) string {
	return fmt.Sprintf("%s_%s", problem, uuid.NewString()[:8])
}

// replay applies the log in write order and returns the live snapshots
// sorted by iteration.
func replay(log []dynamo.Snapshot) []dynamo.Snapshot {
	live := make([]dynamo.Snapshot, 0, len(log))
	for _, s := range log {
		cut := len(live)
		for cut > 0 && live[cut-1].Iteration >= s.Iteration {
			cut--
		}
		live = append(live[:cut], s)
	}
	return live
}

func latest(snaps []dynamo.Snapshot) (dynamo.Snapshot, error) {
	if len(snaps) == 0 {
		return dynamo.Snapshot{}, ErrSnapshotNotFound
	}
	return snaps[len(snaps)-1], nil
}

func find(snaps []dynamo.Snapshot, iteration int) (dynamo.Snapshot, error) {
	for _, s := range snaps {
		if s.Iteration == iteration {
			return s, nil
		}
	}
	return dynamo.Snapshot{}, fmt.Errorf("%w: iteration %d", ErrSnapshotNotFound, iteration)
}

func trace(snaps []dynamo.Snapshot) []float64 {
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.Lambda
	}
	return out
}
