package training

import (
	"BPNet/pkg/dataProcess"
	"BPNet/pkg/network"
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNetwork(t *testing.T, inputWidth int, widths ...int) *network.NeuronNetwork {
	t.Helper()
	config := network.NewNetworkConfig(inputWidth)
	config.Epochs = 20
	config.Logger = log.New(io.Discard, "", 0)
	nn, err := network.NewNeuronNetwork(config)
	require.NoError(t, err)
	for _, w := range widths {
		require.NoError(t, nn.AddLayer(w, 0.5, 0.5))
	}
	return nn
}

func TestOneHotEncode(t *testing.T) {
	assert.Equal(t, []int{0, 0, 1, 0}, OneHotEncode(2, 4))
	assert.Equal(t, []int{0, 0, 0}, OneHotEncode(5, 3))
}

func TestPrepareData(t *testing.T) {
	ds := &dataProcess.Dataset{
		Images: [][]byte{{0, 255}, {51, 102}},
		Labels: []byte{1, 0},
	}
	samples := PrepareData(ds, 3)

	require.Equal(t, 2, samples.Len())
	assert.Equal(t, []float64{0, 1}, samples.X[0])
	assert.InDelta(t, 0.2, samples.X[1][0], 1e-12)
	assert.InDelta(t, 0.4, samples.X[1][1], 1e-12)
	assert.Equal(t, [][]int{{0, 1, 0}, {1, 0, 0}}, samples.D)
}

func TestCorrect(t *testing.T) {
	assert.True(t, Correct([]float64{0.7}, []int{1}))
	assert.True(t, Correct([]float64{0.2}, []int{0}))
	assert.False(t, Correct([]float64{0.2}, []int{1}))
	assert.True(t, Correct([]float64{0.1, 0.8, 0.3}, []int{0, 1, 0}))
	assert.False(t, Correct([]float64{0.9, 0.8, 0.3}, []int{0, 1, 0}))
	assert.False(t, Correct([]float64{0.9}, []int{1, 0}))
}

func TestEvaluate(t *testing.T) {
	nn := newNetwork(t, 2, 1)

	acc, err := Evaluate(nn, dataProcess.XORSamples().X, dataProcess.XORSamples().D)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)

	_, err = Evaluate(nn, dataProcess.XORSamples().X, dataProcess.XORSamples().D[:2])
	assert.ErrorIs(t, err, network.ErrSizeMismatch)

	acc, err = Evaluate(nn, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, acc)
}

func TestTrainModel(t *testing.T) {
	nn := newNetwork(t, 2, 3, 1)
	var logs bytes.Buffer

	report, err := TrainModel(nn, dataProcess.XORSamples(), log.New(&logs, "", 0))
	require.NoError(t, err)

	assert.True(t, nn.Frozen())
	assert.GreaterOrEqual(t, report.FinalAccuracy, 0.0)
	assert.LessOrEqual(t, report.FinalAccuracy, 1.0)
	assert.Contains(t, logs.String(), "训练前")
	assert.Contains(t, logs.String(), "训练后")
	assert.Equal(t, 20, nn.LayerStats()[0].MomentumSteps)
}

func TestTrainModel_PropagatesErrors(t *testing.T) {
	nn := newNetwork(t, 3, 1)

	_, err := TrainModel(nn, dataProcess.XORSamples(), log.New(io.Discard, "", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrDimensionMismatch)
	assert.False(t, nn.Frozen())
}
