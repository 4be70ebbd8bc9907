package server

import (
	"BPNet/pkg/network"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNetwork(t *testing.T) *network.NeuronNetwork {
	t.Helper()
	config := network.NewNetworkConfig(2)
	config.Logger = log.New(io.Discard, "", 0)
	nn, err := network.NewNeuronNetwork(config)
	require.NoError(t, err)
	return nn
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Add("a", newNetwork(t))
	b := r.Add("b", newNetwork(t))

	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	models := r.Models()
	require.Len(t, models, 2)
	assert.False(t, models[1].CreatedAt.Before(models[0].CreatedAt))

	replaced := r.Put(a.ID, "a2", newNetwork(t))
	got, _ = r.Get(a.ID)
	assert.Same(t, replaced, got)
	assert.Len(t, r.Models(), 2)

	assert.True(t, r.Remove(a.ID))
	assert.False(t, r.Remove(a.ID))
	_, ok = r.Get(a.ID)
	assert.False(t, ok)
}

func TestHub(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe("m")
	ch2, cancel2 := h.Subscribe("m")
	other, cancelOther := h.Subscribe("other")
	defer cancelOther()
	assert.Equal(t, 2, h.Subscribers("m"))

	h.Publish("m", network.EpochReport{Epoch: 1})
	assert.Equal(t, 1, (<-ch1).Epoch)
	assert.Equal(t, 1, (<-ch2).Epoch)
	assert.Empty(t, other)

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers("m"))

	// 缓冲区满时丢弃，不阻塞训练
	for i := 0; i < progressBuffer+10; i++ {
		h.Publish("m", network.EpochReport{Epoch: i})
	}
	assert.Len(t, ch2, progressBuffer)

	cancel2()
	assert.Zero(t, h.Subscribers("m"))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("m")
	other, cancelOther := h.Subscribe("other")
	defer cancelOther()

	h.Close("m")
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("m"))
	assert.Equal(t, 1, h.Subscribers("other"))

	// Close 之后再调用 cancel 不会重复关闭
	assert.NotPanics(t, cancel)
	assert.NotPanics(t, func() { h.Publish("m", network.EpochReport{Epoch: 1}) })

	h.Publish("other", network.EpochReport{Epoch: 2})
	assert.Equal(t, 2, (<-other).Epoch)
}
