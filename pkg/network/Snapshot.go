package network

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LayerSnapshot 单层的超参数、权重和梯度累加器
// 矩阵使用 gonum 的二进制编码
type LayerSnapshot struct {
	InputSize    int     `json:"input_size"`
	OutputSize   int     `json:"output_size"`
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	Weights      []byte  `json:"weights"`
	Gradients    []byte  `json:"gradients"`
}

// Snapshot 网络的完整状态，恢复后预测结果完全一致，并且可以继续训练
type Snapshot struct {
	InputWidth int             `json:"input_width"`
	BatchSize  int             `json:"batch_size"`
	Epochs     int             `json:"epochs"`
	Epsilon    float64         `json:"epsilon"`
	Layout     GradientLayout  `json:"layout"`
	Rule       string          `json:"rule"`
	Frozen     bool            `json:"frozen"`
	Layers     []LayerSnapshot `json:"layers"`
}

// Snapshot 导出网络当前状态
func (nn *NeuronNetwork) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		InputWidth: nn.inputWidth,
		BatchSize:  nn.batchSize,
		Epochs:     nn.epochs,
		Epsilon:    nn.epsilon,
		Layout:     nn.layout,
		Rule:       nn.rule.Name,
		Frozen:     nn.frozen,
		Layers:     make([]LayerSnapshot, len(nn.layers)),
	}
	for i, l := range nn.layers {
		weights, err := l.weights.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "编码第 %d 层权重失败", i)
		}
		grads, err := l.dWeights.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "编码第 %d 层梯度失败", i)
		}
		snap.Layers[i] = LayerSnapshot{
			InputSize:    l.inputSize,
			OutputSize:   l.outputSize,
			LearningRate: l.learningRate,
			Momentum:     l.momentum,
			Weights:      weights,
			Gradients:    grads,
		}
	}
	return snap, nil
}

// RestoreNetwork 根据快照重建网络
// config 只提供运行时选项（日志、回调、随机数源等），结构和超参数都来自快照
func RestoreNetwork(snap *Snapshot, config NetworkConfig) (*NeuronNetwork, error) {
	rule, ok := DeltaRuleByName(snap.Rule)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidConfig, "未知的误差规则 %q", snap.Rule)
	}
	config.InputWidth = snap.InputWidth
	config.BatchSize = snap.BatchSize
	config.Epochs = snap.Epochs
	config.Epsilon = snap.Epsilon
	config.Layout = snap.Layout
	config.Rule = rule

	nn, err := NewNeuronNetwork(config)
	if err != nil {
		return nil, err
	}
	for i, ls := range snap.Layers {
		if ls.InputSize != nn.outputWidth {
			return nil, dimensionMismatch(StageInput, i, nn.outputWidth, ls.InputSize)
		}
		if err := nn.AddLayer(ls.OutputSize, ls.LearningRate, ls.Momentum); err != nil {
			return nil, err
		}
		l := nn.layers[i]
		if err := restoreMatrix(l.weights, ls.Weights); err != nil {
			return nil, errors.Wrapf(err, "解码第 %d 层权重失败", i)
		}
		if err := restoreMatrix(l.dWeights, ls.Gradients); err != nil {
			return nil, errors.Wrapf(err, "解码第 %d 层梯度失败", i)
		}
	}
	nn.frozen = snap.Frozen
	return nn, nil
}

// restoreMatrix 解码到临时矩阵，确认形状一致后再拷贝进层自己的缓冲区
func restoreMatrix(dst *mat.Dense, data []byte) error {
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return err
	}
	r, c := dst.Dims()
	mr, mc := m.Dims()
	if r != mr || c != mc {
		return &DimensionMismatchError{Stage: StageInput, Layer: -1, Example: -1, Expected: r * c, Actual: mr * mc}
	}
	dst.Copy(&m)
	return nil
}
