package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		x, err := NewTensor([]int{2, 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, 6, x.Numel())
		assert.Equal(t, 2, x.Rows())
		assert.Equal(t, 3, x.Cols())
		assert.Equal(t, CPU, x.Device)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := NewTensor([]int{2, 3}, []float64{1, 2})
		assert.Error(t, err)
	})

	t.Run("non-positive dimension", func(t *testing.T) {
		_, err := NewTensor([]int{2, 0}, nil)
		assert.Error(t, err)
	})
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in      string
		want    DeviceType
		wantErr bool
	}{
		{"", CPU, false},
		{"cpu", CPU, false},
		{"auto", CPU, false},
		{"cuda:0", GPU, false},
		{"MPS", GPU, false},
		{"tpu", CPU, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	x := MustNew([]int{2}, []float64{1, 2})
	c := x.Clone()
	c.Data[0] = 9
	assert.Equal(t, 1.0, x.Data[0])

	d := x.Detach()
	d.Data[1] = 7
	assert.Equal(t, 7.0, x.Data[1], "detach shares storage")
}

func TestForwardValues(t *testing.T) {
	a := MustNew([]int{2, 2}, []float64{1, 2, 3, 4})
	b := MustNew([]int{2, 1}, []float64{5, 6})

	cat, err := ConcatColumns(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, cat.Shape)
	assert.Equal(t, []float64{1, 2, 5, 3, 4, 6}, cat.Data)

	prod, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{17, 39}, prod.Data)

	row, err := Add(a, MustNew([]int{2}, []float64{10, 20}))
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 13, 24}, row.Data)

	_, err = Add(a, MustNew([]int{3}, []float64{1, 2, 3}))
	assert.Error(t, err)

	p, err := SoftmaxRows(MustNew([]int{1, 2}, []float64{0, 0}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p.Data, 1e-12)

	assert.Equal(t, []int{1, 0}, ArgMaxRows(MustNew([]int{2, 2}, []float64{0, 1, 3, 2})))

	clamped := LogClamped(MustNew([]int{2}, []float64{0, 1}), -100)
	assert.Equal(t, []float64{-100, 0}, clamped.Data)
}

func TestAllFinite(t *testing.T) {
	assert.True(t, MustNew([]int{2}, []float64{1, 2}).AllFinite())
	assert.False(t, MustNew([]int{2}, []float64{1, math.NaN()}).AllFinite())
	assert.False(t, FromScalar(math.Inf(1)).AllFinite())
}
