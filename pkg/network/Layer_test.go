package network

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestLayer(t *testing.T, in, out int, layout GradientLayout) *Layer {
	t.Helper()
	l, err := NewLayer(LayerConfig{
		InputSize:    in,
		OutputSize:   out,
		LearningRate: 0.5,
		Momentum:     0.9,
		Layout:       layout,
		Rule:         ReferenceDeltaRule,
	}, rand.NewPCG(7, 0))
	require.NoError(t, err)
	return l
}

func TestLayer_ForwardDimensions(t *testing.T) {
	l := newTestLayer(t, 3, 2, LayoutInputStride)

	out, err := l.Forward(mat.NewVecDense(3, []float64{0.1, 0.2, 0.3}))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())

	_, err = l.Forward(mat.NewVecDense(2, []float64{0.1, 0.2}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, StageForward, dm.Stage)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestLayer_AccessorsAreReadOnly(t *testing.T) {
	l := newTestLayer(t, 2, 2, LayoutInputStride)
	out, err := l.Forward(mat.NewVecDense(2, []float64{0.5, -0.5}))
	require.NoError(t, err)
	require.NoError(t, l.AdjustAsOutputLayer([]int{1, 0}, mat.NewVecDense(2, []float64{0.5, -0.5})))

	for _, v := range []mat.Vector{out, l.Outputs(), l.Deltas()} {
		_, ok := v.(*mat.VecDense)
		assert.False(t, ok)
		_, ok = v.(mat.RawVectorer)
		assert.False(t, ok)
	}
	for _, m := range []mat.Matrix{l.Weights(), l.Gradients()} {
		_, ok := m.(*mat.Dense)
		assert.False(t, ok)
		_, ok = m.(mat.RawMatrixer)
		assert.False(t, ok)
		_, ok = m.T().(mat.Untransposer).Untranspose().(*mat.Dense)
		assert.False(t, ok)
	}

	// 拷贝出来的矩阵与层的缓冲区互不影响
	w := mat.DenseCopyOf(l.Weights())
	before := w.At(0, 0)
	w.Set(0, 0, 1234)
	assert.Equal(t, before, l.Weights().At(0, 0))
	assert.Equal(t, out.AtVec(0), l.Outputs().AtVec(0))
	assert.Equal(t, l.Weights().At(1, 0), l.Weights().T().At(0, 1))
	assert.Equal(t, out.AtVec(1), out.T().At(0, 1))
}

func TestLayer_InitialWeightsInRange(t *testing.T) {
	l := newTestLayer(t, 4, 5, LayoutInputStride)

	r, c := l.Weights().Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 4, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w := l.Weights().At(i, j)
			assert.GreaterOrEqual(t, w, -1.0)
			assert.LessOrEqual(t, w, 1.0)
		}
	}
}

func TestLayer_ForwardComputesScaledSigmoid(t *testing.T) {
	l := newTestLayer(t, 3, 2, LayoutInputStride)
	x := []float64{1, -2, 3}

	out, err := l.Forward(mat.NewVecDense(3, x))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := range x {
			sum += l.Weights().At(i, j) * x[j]
		}
		assert.InDelta(t, 1/(1+math.Exp(-0.01*sum)), out.AtVec(i), 1e-12)
		assert.Equal(t, out.AtVec(i), l.Outputs().AtVec(i))
	}
}

func TestLayer_NewLayerRejectsBadConfig(t *testing.T) {
	_, err := NewLayer(LayerConfig{InputSize: 0, OutputSize: 2}, rand.NewPCG(1, 0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLayer(LayerConfig{InputSize: 2, OutputSize: 2}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// 输出宽度大于输入宽度时，按输出宽度寻址会越过缓冲区末尾
	_, err = NewLayer(LayerConfig{InputSize: 2, OutputSize: 3, Layout: LayoutOutputStride}, rand.NewPCG(1, 0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLayer(LayerConfig{InputSize: 3, OutputSize: 1, Layout: LayoutOutputStride}, rand.NewPCG(1, 0))
	assert.NoError(t, err)
}

func TestLayer_AdjustAsOutputLayerAccumulates(t *testing.T) {
	l := newTestLayer(t, 2, 1, LayoutInputStride)
	x := mat.NewVecDense(2, []float64{0.5, -1})
	before := mat.DenseCopyOf(l.Weights())

	_, err := l.Forward(x)
	require.NoError(t, err)
	require.NoError(t, l.AdjustAsOutputLayer([]int{1}, x))

	y := l.Outputs().AtVec(0)
	delta := (1 - y*y) * y * y * (1 - y*y)
	assert.InDelta(t, delta, l.Deltas().AtVec(0), 1e-15)
	assert.InDelta(t, 0.5*delta*0.5, l.Gradients().At(0, 0), 1e-15)
	assert.InDelta(t, 0.5*delta*-1, l.Gradients().At(0, 1), 1e-15)

	// 第二次调整叠加在原有梯度上，而不是覆盖
	require.NoError(t, l.AdjustAsOutputLayer([]int{1}, x))
	assert.InDelta(t, 2*0.5*delta*0.5, l.Gradients().At(0, 0), 1e-15)

	assert.True(t, mat.Equal(before, l.Weights()), "adjusting must not touch weights")
	assert.Equal(t, 2, l.Stats().Backwards)
}

func TestLayer_AdjustAsOutputLayerDimensions(t *testing.T) {
	l := newTestLayer(t, 2, 2, LayoutInputStride)
	x := mat.NewVecDense(2, []float64{1, 1})
	_, err := l.Forward(x)
	require.NoError(t, err)

	err = l.AdjustAsOutputLayer([]int{1}, x)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = l.AdjustAsOutputLayer([]int{1, 0}, mat.NewVecDense(3, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLayer_AdjustAsHiddenLayer(t *testing.T) {
	hidden := newTestLayer(t, 2, 3, LayoutInputStride)
	output := newTestLayer(t, 3, 2, LayoutInputStride)
	x := mat.NewVecDense(2, []float64{0.3, 0.7})

	h, err := hidden.Forward(x)
	require.NoError(t, err)
	_, err = output.Forward(h)
	require.NoError(t, err)
	require.NoError(t, output.AdjustAsOutputLayer([]int{1, 0}, h))
	require.NoError(t, hidden.AdjustAsHiddenLayer(output, x))

	for i := 0; i < 3; i++ {
		sum := 0.0
		for j := 0; j < 2; j++ {
			sum += output.Weights().At(j, i) * output.Deltas().AtVec(j)
		}
		y := hidden.Outputs().AtVec(i)
		want := sum * y * y * (1 - y*y)
		assert.InDelta(t, want, hidden.Deltas().AtVec(i), 1e-15)
		assert.InDelta(t, 0.5*want*0.3, hidden.Gradients().At(i, 0), 1e-15)
		assert.InDelta(t, 0.5*want*0.7, hidden.Gradients().At(i, 1), 1e-15)
	}
}

func TestLayer_AdjustAsHiddenLayerMismatch(t *testing.T) {
	hidden := newTestLayer(t, 2, 3, LayoutInputStride)
	next := newTestLayer(t, 2, 1, LayoutInputStride)
	x := mat.NewVecDense(2, []float64{1, 0})

	err := hidden.AdjustAsHiddenLayer(next, x)
	require.Error(t, err)
	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, StageHiddenBackward, dm.Stage)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestLayer_MomentumDecaysInsteadOfReset(t *testing.T) {
	l := newTestLayer(t, 2, 2, LayoutInputStride)
	l.dWeights.Set(0, 0, 1)
	l.dWeights.Set(1, 1, -2)
	before := mat.DenseCopyOf(l.Weights())

	l.ApplyMomentum()
	assert.InDelta(t, 0.9, l.Gradients().At(0, 0), 1e-15)
	assert.InDelta(t, -1.8, l.Gradients().At(1, 1), 1e-15)

	l.UpdateWeights()
	assert.InDelta(t, before.At(0, 0)+0.9, l.Weights().At(0, 0), 1e-15)
	assert.InDelta(t, before.At(1, 1)-1.8, l.Weights().At(1, 1), 1e-15)
	assert.InDelta(t, before.At(0, 1), l.Weights().At(0, 1), 1e-15)

	// 更新权重后累加器保留原值，等待下一次动量衰减
	assert.InDelta(t, 0.9, l.Gradients().At(0, 0), 1e-15)
	assert.Equal(t, LayerStats{MomentumSteps: 1, WeightUpdates: 1}, l.Stats())
}

func TestGradientLayout_Stride(t *testing.T) {
	assert.Equal(t, 3, LayoutInputStride.Stride(3, 2))
	assert.Equal(t, 2, LayoutOutputStride.Stride(3, 2))
	assert.Equal(t, 1*3+2, LayoutInputStride.Index(1, 2, 3, 2))
	assert.Equal(t, 1*2+2, LayoutOutputStride.Index(1, 2, 3, 2))

	l := newTestLayer(t, 3, 2, LayoutOutputStride)
	assert.Equal(t, 2, l.GradientStride())

	layout, err := ParseGradientLayout("output-stride")
	require.NoError(t, err)
	assert.Equal(t, LayoutOutputStride, layout)
	_, err = ParseGradientLayout("diagonal")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGradientLayout_AccumulatorCells(t *testing.T) {
	x := mat.NewVecDense(3, []float64{1, 2, 3})

	wide := newTestLayer(t, 3, 2, LayoutInputStride)
	legacy := newTestLayer(t, 3, 2, LayoutOutputStride)
	for _, l := range []*Layer{wide, legacy} {
		_, err := l.Forward(x)
		require.NoError(t, err)
		// 只给第 1 行累加，便于观察它落在哪些格子
		l.accumulate(1, 1, x)
	}

	// 按输入宽度寻址，第 1 行的梯度正好落在权重的第 1 行
	assert.Equal(t, []float64{0, 0, 0, 0.5, 1, 1.5}, wide.dWeights.RawMatrix().Data)
	// 按输出宽度寻址，第 1 行从下标 2 开始，与第 0 行的最后一个权重重叠
	assert.Equal(t, []float64{0, 0, 0.5, 1, 1.5, 0}, legacy.dWeights.RawMatrix().Data)
}

func TestGradientLayout_SquareLayersAgree(t *testing.T) {
	x := mat.NewVecDense(2, []float64{0.25, -0.75})

	a := newTestLayer(t, 2, 2, LayoutInputStride)
	b := newTestLayer(t, 2, 2, LayoutOutputStride)
	for _, l := range []*Layer{a, b} {
		_, err := l.Forward(x)
		require.NoError(t, err)
		require.NoError(t, l.AdjustAsOutputLayer([]int{0, 1}, x))
	}
	assert.True(t, mat.Equal(a.Gradients(), b.Gradients()))
}
