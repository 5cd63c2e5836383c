package layers

import (
	"fmt"

	"github.com/tsawler/go-latent/checkpoints"
)

// StateDict deep-copies the parameters of m.
func StateDict(m Parametrized) *checkpoints.StateDict {
	sd := checkpoints.NewStateDict()
	for _, p := range m.NamedParameters() {
		sd.Add(p.Name, p.Tensor.Shape, p.Tensor.Data)
	}
	return sd
}

// LoadStateDict copies sd into the parameters of m in place. Every parameter
// of m must be present with a matching shape; extra entries are an error too.
func LoadStateDict(m Parametrized, sd *checkpoints.StateDict) error {
	named := m.NamedParameters()
	if len(named) != sd.Len() {
		return fmt.Errorf("%w: model has %d parameters, snapshot has %d",
			checkpoints.ErrMissingParameter, len(named), sd.Len())
	}

	for _, p := range named {
		w, ok := sd.Get(p.Name)
		if !ok {
			return fmt.Errorf("%w: %s", checkpoints.ErrMissingParameter, p.Name)
		}
		if !equalShape(w.Shape, p.Tensor.Shape) || len(w.Data) != len(p.Tensor.Data) {
			return fmt.Errorf("%w: %s has shape %v, snapshot has %v",
				checkpoints.ErrShapeMismatch, p.Name, p.Tensor.Shape, w.Shape)
		}
	}

	for _, p := range named {
		w, _ := sd.Get(p.Name)
		copy(p.Tensor.Data, w.Data)
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
