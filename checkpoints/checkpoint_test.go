package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStateDict() *StateDict {
	sd := NewStateDict()
	sd.Add("encoder.0.weight", []int{2, 3}, []float64{1, -2, 3.5, 0, 1e-9, -7})
	sd.Add("encoder.0.bias", []int{3}, []float64{0.1, 0.2, 0.3})
	sd.Add("prelu.weight", []int{1}, []float64{0.25})
	return sd
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatProto, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "best_vae_a.pth")
			saver := NewCheckpointSaver(format)

			sd := testStateDict()
			sd.Metadata.Description = "best"
			require.NoError(t, saver.Save(sd, path))

			loaded, err := saver.Load(path)
			require.NoError(t, err)

			assert.Equal(t, sd.Names(), loaded.Names())
			for _, w := range sd.Weights {
				got, ok := loaded.Get(w.Name)
				require.True(t, ok, w.Name)
				assert.Equal(t, w.Shape, got.Shape)
				assert.Equal(t, w.Data, got.Data)
			}
			assert.Equal(t, "go-latent", loaded.Metadata.Framework)
			assert.Equal(t, "best", loaded.Metadata.Description)
		})
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_dcm.pth")

	first := testStateDict()
	require.NoError(t, Save(first, path))

	second := NewStateDict()
	second.Add("w", []int{1}, []float64{42})
	require.NoError(t, Save(second, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, loaded.Names())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestCloneIsDeep(t *testing.T) {
	sd := testStateDict()
	clone := sd.Clone()

	sd.Weights[0].Data[0] = 100
	sd.Weights[0].Shape[0] = 9

	w, ok := clone.Get("encoder.0.weight")
	require.True(t, ok)
	assert.Equal(t, 1.0, w.Data[0])
	assert.Equal(t, []int{2, 3}, w.Shape)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pth")

	t.Run("truncated", func(t *testing.T) {
		data := marshalStateDict(testStateDict())
		require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("shape does not match data", func(t *testing.T) {
		sd := NewStateDict()
		sd.Weights = append(sd.Weights, WeightTensor{Name: "w", Shape: []int{3}, Data: []float64{1}})
		require.NoError(t, os.WriteFile(path, marshalStateDict(sd), 0o644))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.pth"))
		assert.Error(t, err)
	})
}
