package server

import (
	"BPNet/pkg/network"
	"sync"
)

const progressBuffer = 64

// Hub 按模型 id 分发训练进度
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan network.EpochReport]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan network.EpochReport]struct{})}
}

// Subscribe 订阅某个模型的进度，返回的 cancel 必须调用
func (h *Hub) Subscribe(id string) (<-chan network.EpochReport, func()) {
	ch := make(chan network.EpochReport, progressBuffer)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan network.EpochReport]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Close 可能已经关闭并移除了这个订阅
		if _, ok := h.subs[id][ch]; !ok {
			return
		}
		delete(h.subs[id], ch)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
		close(ch)
	}
}

// Close 关闭某个模型的全部订阅，订阅者的 channel 随之关闭
func (h *Hub) Close(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		close(ch)
	}
	delete(h.subs, id)
}

// Publish 发送进度，订阅者缓冲区满时丢弃
func (h *Hub) Publish(id string, report network.EpochReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- report:
		default:
		}
	}
}

// Subscribers 返回某个模型当前的订阅者数量
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}
