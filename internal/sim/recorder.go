package sim

import (
	"fmt"
	"sync"

	"github.com/san-kum/flowode/internal/dynamo"
)

// Memory is an in-process Recorder.
type Memory struct {
	mu    sync.Mutex
	snaps []dynamo.Snapshot
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(s dynamo.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := m.snaps[:0]
	for _, old := range m.snaps {
		if old.Iteration < s.Iteration {
			keep = append(keep, old)
		}
	}
	s.Data = append([]float64(nil), s.Data...)
	s.Shape = append([]int(nil), s.Shape...)
	m.snaps = append(keep, s)
	return nil
}

// Latest returns the snapshot with the largest iteration.
func (m *Memory) Latest() (dynamo.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.snaps) == 0 {
		return dynamo.Snapshot{}, false
	}
	return m.snaps[len(m.snaps)-1], true
}

func (m *Memory) Snapshot(iteration int) (dynamo.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.snaps {
		if s.Iteration == iteration {
			return s, nil
		}
	}
	return dynamo.Snapshot{}, fmt.Errorf("iteration %d not recorded", iteration)
}

// Trace returns the recorded λ values indexed by iteration.
func (m *Memory) Trace() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	trace := make([]float64, len(m.snaps))
	for i, s := range m.snaps {
		trace[i] = s.Lambda
	}
	return trace
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}
