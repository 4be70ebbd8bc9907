package store

import (
	"BPNet/pkg/network"
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func trainedSnapshot(t *testing.T) *network.Snapshot {
	t.Helper()
	config := network.NewNetworkConfig(2)
	config.Epochs = 5
	config.Logger = log.New(io.Discard, "", 0)
	nn, err := network.NewNeuronNetwork(config)
	require.NoError(t, err)
	require.NoError(t, nn.AddLayer(3, 0.3, 0.5))
	require.NoError(t, nn.AddLayer(1, 0.3, 0.5))
	require.NoError(t, nn.Train([][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, [][]int{{0}, {1}, {1}, {0}}))

	snap, err := nn.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap := trainedSnapshot(t)

	require.NoError(t, s.Save(ctx, "m1", "xor", snap))
	loaded, name, err := s.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "xor", name)
	assert.Equal(t, snap, loaded)

	nn, err := network.RestoreNetwork(loaded, network.NewNetworkConfig(0))
	require.NoError(t, err)
	assert.True(t, nn.Frozen())
	assert.Equal(t, 1, nn.OutputWidth())
}

func TestSaveOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap := trainedSnapshot(t)

	require.NoError(t, s.Save(ctx, "m1", "first", snap))
	shorter := *snap
	shorter.Layers = snap.Layers[:1]
	require.NoError(t, s.Save(ctx, "m1", "second", &shorter))

	loaded, name, err := s.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "second", name)
	assert.Len(t, loaded.Layers, 1)
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap := trainedSnapshot(t)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, s.Save(ctx, "a", "first", snap))
	require.NoError(t, s.Save(ctx, "b", "second", snap))

	infos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, 2, info.InputWidth)
		assert.Equal(t, 1, info.OutputWidth)
		assert.Equal(t, 2, info.NumLayers)
		assert.True(t, info.Frozen)
	}

	require.NoError(t, s.Delete(ctx, "a"))
	_, _, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

	infos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].ID)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
