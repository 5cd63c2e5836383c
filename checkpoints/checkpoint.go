package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "Proto"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// WeightTensor is one named parameter tensor of a model
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Framework   string    `json:"framework"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// StateDict is the parameter state of one model, keyed by parameter name in
// registration order. A StateDict owns its data: values added to it are copied.
type StateDict struct {
	Weights  []WeightTensor     `json:"weights"`
	Metadata CheckpointMetadata `json:"metadata"`
}

func NewStateDict() *StateDict {
	return &StateDict{}
}

// Add copies shape and data into a new entry.
func (sd *StateDict) Add(name string, shape []int, data []float64) {
	sd.Weights = append(sd.Weights, WeightTensor{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  append([]float64(nil), data...),
	})
}

// Get returns the entry with the given name.
func (sd *StateDict) Get(name string) (*WeightTensor, bool) {
	for i := range sd.Weights {
		if sd.Weights[i].Name == name {
			return &sd.Weights[i], true
		}
	}
	return nil, false
}

func (sd *StateDict) Names() []string {
	names := make([]string, len(sd.Weights))
	for i, w := range sd.Weights {
		names[i] = w.Name
	}
	return names
}

func (sd *StateDict) Len() int {
	return len(sd.Weights)
}

// Clone returns a deep copy.
func (sd *StateDict) Clone() *StateDict {
	out := &StateDict{
		Weights:  make([]WeightTensor, 0, len(sd.Weights)),
		Metadata: sd.Metadata,
	}
	for _, w := range sd.Weights {
		out.Add(w.Name, w.Shape, w.Data)
	}
	return out
}

// CheckpointSaver handles saving state dicts in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Save writes sd to path, replacing any existing file.
func (cs *CheckpointSaver) Save(sd *StateDict, path string) error {
	if sd.Metadata.Framework == "" {
		sd.Metadata.Framework = "go-latent"
		sd.Metadata.Version = "1.0.0"
		sd.Metadata.CreatedAt = time.Now()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatProto:
		data = marshalStateDict(sd)
	case FormatJSON:
		data, err = json.MarshalIndent(sd, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	return writeFileAtomic(path, data)
}

// Load reads a state dict from path
func (cs *CheckpointSaver) Load(path string) (*StateDict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	switch cs.format {
	case FormatProto:
		sd, err := unmarshalStateDict(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return sd, nil
	case FormatJSON:
		var sd StateDict
		if err := json.Unmarshal(data, &sd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		return &sd, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// Save writes sd to path in the binary snapshot format.
func Save(sd *StateDict, path string) error {
	return NewCheckpointSaver(FormatProto).Save(sd, path)
}

// Load reads a binary snapshot written by Save.
func Load(path string) (*StateDict, error) {
	return NewCheckpointSaver(FormatProto).Load(path)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}
