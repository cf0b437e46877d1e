package run

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the arena of units for one run plus run-scoped identity. It is
// confined to the orchestrator goroutine between stage barriers; stages
// that fan out must partition unit indexes, never share them.
type State struct {
	RunID string

	// StageCursor names the stage currently executing, for logs and the
	// status file.
	StageCursor string

	units []*Unit
}

// Snapshot is a point-in-time view of the arena. Cheap to take: unit
// pointers are shared until a Mutate clones them.
type Snapshot struct {
	units []*Unit
}

// NewState creates an empty run state with a fresh run ID.
func NewState() *State {
	return &State{RunID: uuid.NewString()}
}

// Append adds a unit to the end of the arena.
func (s *State) Append(u *Unit) { s.units = append(s.units, u) }

// Len returns the unit count.
func (s *State) Len() int { return len(s.units) }

// Unit returns the unit at index i for reading. Callers must not mutate
// the result; use Mutate instead.
func (s *State) Unit(i int) *Unit { return s.units[i] }

// Units returns the arena in order, for read-only iteration.
func (s *State) Units() []*Unit { return s.units }

// Len returns the unit count captured by the snapshot.
func (s Snapshot) Len() int { return len(s.units) }

// Snapshot clones the pointer slice. Taken before every mutating stage.
func (s *State) Snapshot() Snapshot {
	snap := make([]*Unit, len(s.units))
	copy(snap, s.units)
	return Snapshot{units: snap}
}

// Mutate applies fn to the unit at index i via copy-on-write: the unit is
// cloned first so outstanding snapshots keep the pre-mutation version.
func (s *State) Mutate(i int, fn func(*Unit)) error {
	if i < 0 || i >= len(s.units) {
		return fmt.Errorf("unit index %d out of range [0,%d)", i, len(s.units))
	}
	clone := s.units[i].Clone()
	fn(clone)
	s.units[i] = clone
	return nil
}

// Delete removes the unit at index i, preserving order. Deletion is
// deliberate and rare; the integrity checker treats unexplained count
// drops as violations.
func (s *State) Delete(i int) error {
	if i < 0 || i >= len(s.units) {
		return fmt.Errorf("unit index %d out of range [0,%d)", i, len(s.units))
	}
	s.units = append(s.units[:i], s.units[i+1:]...)
	return nil
}

// Restore swaps the arena back to a snapshot wholesale.
func (s *State) Restore(snap Snapshot) {
	s.units = make([]*Unit, len(snap.units))
	copy(s.units, snap.units)
}

// Units returns the snapshot's units, for integrity comparison.
func (snap Snapshot) Units() []*Unit { return snap.units }
