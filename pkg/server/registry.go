package server

import (
	"BPNet/pkg/network"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Model 注册表中的一个网络，mu 保证同一时间只有一个请求在使用它
type Model struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu sync.Mutex
	nn *network.NeuronNetwork
}

// LayerInfo 单层的描述
type LayerInfo struct {
	InputSize    int                `json:"input_size"`
	OutputSize   int                `json:"output_size"`
	LearningRate float64            `json:"learning_rate"`
	Momentum     float64            `json:"momentum"`
	Stats        network.LayerStats `json:"stats"`
}

// ModelSummary 模型的描述，GET /models 和 GET /models/:id 返回
type ModelSummary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	InputWidth  int         `json:"input_width"`
	OutputWidth int         `json:"output_width"`
	BatchSize   int         `json:"batch_size"`
	Epochs      int         `json:"epochs"`
	Epsilon     float64     `json:"epsilon"`
	Frozen      bool        `json:"frozen"`
	Layers      []LayerInfo `json:"layers"`
}

// summary 调用方必须持有 m.mu
func (m *Model) summary() ModelSummary {
	s := ModelSummary{
		ID:          m.ID,
		Name:        m.Name,
		CreatedAt:   m.CreatedAt,
		InputWidth:  m.nn.InputWidth(),
		OutputWidth: m.nn.OutputWidth(),
		BatchSize:   m.nn.BatchSize(),
		Epochs:      m.nn.Epochs(),
		Epsilon:     m.nn.Epsilon(),
		Frozen:      m.nn.Frozen(),
		Layers:      make([]LayerInfo, m.nn.NumLayers()),
	}
	for i := range s.Layers {
		l := m.nn.Layer(i)
		s.Layers[i] = LayerInfo{
			InputSize:    l.InputSize(),
			OutputSize:   l.OutputSize(),
			LearningRate: l.LearningRate(),
			Momentum:     l.Momentum(),
			Stats:        l.Stats(),
		}
	}
	return s
}

// Registry 模型注册表
type Registry struct {
	models map[string]*Model
	mu     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Add 注册新模型并分配 id
func (r *Registry) Add(name string, nn *network.NeuronNetwork) *Model {
	return r.Put(uuid.New().String(), name, nn)
}

// Put 以指定 id 注册模型，已存在时替换
func (r *Registry) Put(id, name string, nn *network.NeuronNetwork) *Model {
	m := &Model{ID: id, Name: name, CreatedAt: time.Now(), nn: nn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[id] = m
	return m
}

func (r *Registry) Get(id string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return false
	}
	delete(r.models, id)
	return true
}

// Models 按创建时间排序返回所有模型
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	models := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	r.mu.RUnlock()

	sort.Slice(models, func(i, j int) bool {
		if models[i].CreatedAt.Equal(models[j].CreatedAt) {
			return models[i].ID < models[j].ID
		}
		return models[i].CreatedAt.Before(models[j].CreatedAt)
	})
	return models
}
