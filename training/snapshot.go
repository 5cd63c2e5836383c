package training

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/tsawler/go-latent/checkpoints"
	"github.com/tsawler/go-latent/layers"
)

// SnapshotFiles names the files a tracked model is persisted to: Best in the
// output directory and Periodic inside each epoch_<n> directory.
type SnapshotFiles struct {
	Best     string
	Periodic string
}

type snapshotEntry struct {
	name  string
	model layers.Parametrized
	files SnapshotFiles
	best  *checkpoints.StateDict
}

// SnapshotSet holds a deep-copied best snapshot per tracked model. Captured
// weights never alias the live parameters.
type SnapshotSet struct {
	entries []*snapshotEntry
	saver   *checkpoints.CheckpointSaver
}

// NewSnapshotSet creates an empty set writing the binary snapshot format.
func NewSnapshotSet() *SnapshotSet {
	return &SnapshotSet{saver: checkpoints.NewCheckpointSaver(checkpoints.FormatProto)}
}

// Track registers a model under name and captures its current weights.
func (s *SnapshotSet) Track(name string, m layers.Parametrized, files SnapshotFiles) {
	s.entries = append(s.entries, &snapshotEntry{
		name:  name,
		model: m,
		files: files,
		best:  layers.StateDict(m),
	})
}

// Names returns the tracked names in registration order.
func (s *SnapshotSet) Names() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

// Capture replaces every best snapshot with a copy of the live weights.
func (s *SnapshotSet) Capture() {
	for _, e := range s.entries {
		e.best = layers.StateDict(e.model)
	}
}

// Get returns the best snapshot of name.
func (s *SnapshotSet) Get(name string) (*checkpoints.StateDict, bool) {
	for _, e := range s.entries {
		if e.name == name {
			return e.best, true
		}
	}
	return nil, false
}

// Restore loads every best snapshot back into its live model.
func (s *SnapshotSet) Restore() error {
	for _, e := range s.entries {
		if err := layers.LoadStateDict(e.model, e.best); err != nil {
			return fmt.Errorf("restore %s: %w", e.name, err)
		}
	}
	return nil
}

// SaveBest writes every best snapshot into dir, overwriting earlier ones.
func (s *SnapshotSet) SaveBest(dir string) error {
	for _, e := range s.entries {
		path := filepath.Join(dir, e.files.Best)
		if err := s.saver.Save(e.best.Clone(), path); err != nil {
			return fmt.Errorf("save best %s: %w", e.name, err)
		}
	}
	return nil
}

// SavePeriodic writes the live weights of every model into dir/epoch_<n>.
func (s *SnapshotSet) SavePeriodic(dir string, n int) (string, error) {
	epochDir := filepath.Join(dir, fmt.Sprintf("epoch_%d", n))
	if err := os.MkdirAll(epochDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", epochDir, err)
	}
	for _, e := range s.entries {
		path := filepath.Join(epochDir, e.files.Periodic)
		if err := s.saver.Save(layers.StateDict(e.model), path); err != nil {
			return "", fmt.Errorf("save %s: %w", e.name, err)
		}
	}
	return epochDir, nil
}

// EarlyStopper counts validation epochs without strict improvement of the
// best loss. A NaN loss never improves.
type EarlyStopper struct {
	patience  int
	best      float64
	bestEpoch int
	counter   int
}

// NewEarlyStopper stops after patience non-improving epochs. A non-positive
// patience falls back to numEpochs, which never triggers within the run.
func NewEarlyStopper(patience, numEpochs int) *EarlyStopper {
	if patience <= 0 {
		patience = numEpochs
	}
	return &EarlyStopper{patience: patience, best: math.Inf(1), bestEpoch: -1}
}

// Step records one validation loss and reports whether it improved on the
// best so far.
func (e *EarlyStopper) Step(epoch int, loss float64) bool {
	if loss < e.best {
		e.best = loss
		e.bestEpoch = epoch
		e.counter = 0
		return true
	}
	e.counter++
	return false
}

// ShouldStop reports whether the patience is used up. It fires as soon as
// the counter reaches patience, not when it exceeds it: with patience 2 the
// loop stops after the second consecutive epoch without improvement.
func (e *EarlyStopper) ShouldStop() bool {
	return e.counter >= e.patience
}

func (e *EarlyStopper) Best() float64  { return e.best }
func (e *EarlyStopper) BestEpoch() int { return e.bestEpoch }
func (e *EarlyStopper) Counter() int   { return e.counter }
func (e *EarlyStopper) Patience() int  { return e.patience }
