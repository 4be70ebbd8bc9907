package network

import (
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

/*
该文件包含整个神经网络的初始化方法
网络在第一次训练之前通过 AddLayer 逐层搭建，训练开始后结构不再变化
*/

// EpochReport 每轮训练结束后交给 OnEpoch 回调的信息
type EpochReport struct {
	Epoch            int           `json:"epoch"` // 从 1 开始
	Epochs           int           `json:"epochs"`
	TrainingExamples int           `json:"training_examples"`
	WeightUpdates    int           `json:"weight_updates"`
	Validated        bool          `json:"validated"`
	ValidationError  float64       `json:"validation_error"`
	Elapsed          time.Duration `json:"elapsed"`
}

// NetworkConfig 网络配置结构体
type NetworkConfig struct {
	InputWidth int     // 输入层维度
	BatchSize  int     // 每多少个样本更新一次权重
	Epochs     int     // 每次 Train 的训练轮数
	Epsilon    float64 // 验证误差的容忍区间
	Verbose    bool    // 是否输出调试信息

	Seed   uint64      // 未指定 Source 时用于构造 PCG 随机数源
	Source rand.Source // 权重初始化使用的随机数源，由网络独占

	Layout            GradientLayout
	Rule              DeltaRule
	ValidateEachEpoch bool              // 每轮结束后在验证集上计算误差
	OnEpoch           func(EpochReport) // 每轮结束后的回调
	Logger            *log.Logger       // Verbose 输出的去向，默认标准输出
}

// NewNetworkConfig 创建一个默认的网络配置
func NewNetworkConfig(inputWidth int) NetworkConfig {
	return NetworkConfig{
		InputWidth: inputWidth,
		BatchSize:  1,
		Epochs:     1,
		Epsilon:    0.1,
		Seed:       42,
		Rule:       ReferenceDeltaRule,
	}
}

type NeuronNetwork struct {
	layers      []*Layer
	inputWidth  int
	outputWidth int //当前最后一层的输出维度，没有层时等于输入维度
	batchSize   int
	epochs      int
	epsilon     float64
	verbose     bool

	src               rand.Source
	layout            GradientLayout
	rule              DeltaRule
	validateEachEpoch bool
	onEpoch           func(EpochReport)
	logger            *log.Logger

	frozen bool //第一次 Train 之后置为 true
}

// NewNeuronNetwork 根据配置创建一个还没有任何层的网络
func NewNeuronNetwork(config NetworkConfig) (*NeuronNetwork, error) {
	if config.InputWidth <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "输入维度必须为正: %d", config.InputWidth)
	}
	if config.BatchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "批次大小必须为正: %d", config.BatchSize)
	}
	if config.Epochs <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "训练轮数必须为正: %d", config.Epochs)
	}
	if config.Epsilon < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "epsilon 不能为负: %g", config.Epsilon)
	}

	src := config.Source
	if src == nil {
		src = rand.NewPCG(config.Seed, 0)
	}
	rule := config.Rule
	if rule.Output == nil || rule.Local == nil {
		rule = ReferenceDeltaRule
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	return &NeuronNetwork{
		inputWidth:        config.InputWidth,
		outputWidth:       config.InputWidth,
		batchSize:         config.BatchSize,
		epochs:            config.Epochs,
		epsilon:           config.Epsilon,
		verbose:           config.Verbose,
		src:               src,
		layout:            config.Layout,
		rule:              rule,
		validateEachEpoch: config.ValidateEachEpoch,
		onEpoch:           config.OnEpoch,
		logger:            logger,
	}, nil
}

// AddLayer 在网络末尾追加一层，输入维度等于当前最后一层的输出维度
func (nn *NeuronNetwork) AddLayer(outputWidth int, learningRate, momentum float64) error {
	if nn.frozen {
		return errors.Wrapf(ErrTopologyFrozen, "无法添加第 %d 层", len(nn.layers))
	}
	layer, err := NewLayer(LayerConfig{
		InputSize:    nn.outputWidth,
		OutputSize:   outputWidth,
		LearningRate: learningRate,
		Momentum:     momentum,
		Layout:       nn.layout,
		Rule:         nn.rule,
	}, nn.src)
	if err != nil {
		return errors.Wrapf(err, "无法添加第 %d 层", len(nn.layers))
	}
	layer.index = len(nn.layers)
	nn.layers = append(nn.layers, layer)
	nn.outputWidth = outputWidth

	if nn.verbose {
		nn.logger.Printf("添加第 %d 层: %d -> %d, 学习率 %g, 动量 %g\n",
			layer.index, layer.inputSize, layer.outputSize, learningRate, momentum)
	}
	return nil
}

func (nn *NeuronNetwork) InputWidth() int { return nn.inputWidth }
func (nn *NeuronNetwork) OutputWidth() int { return nn.outputWidth }
func (nn *NeuronNetwork) BatchSize() int { return nn.batchSize }
func (nn *NeuronNetwork) Epochs() int { return nn.epochs }
func (nn *NeuronNetwork) Epsilon() float64 { return nn.epsilon }
func (nn *NeuronNetwork) NumLayers() int { return len(nn.layers) }
func (nn *NeuronNetwork) Frozen() bool { return nn.frozen }

// Layer 返回第 i 层，越界时返回 nil
func (nn *NeuronNetwork) Layer(i int) *Layer {
	if i < 0 || i >= len(nn.layers) {
		return nil
	}
	return nn.layers[i]
}

// LayerStats 返回每层的调用计数
func (nn *NeuronNetwork) LayerStats() []LayerStats {
	stats := make([]LayerStats, len(nn.layers))
	for i, l := range nn.layers {
		stats[i] = l.stats
	}
	return stats
}

// WriteWeights 按层输出权重矩阵
func (nn *NeuronNetwork) WriteWeights(w io.Writer) error {
	for i, l := range nn.layers {
		_, err := fmt.Fprintf(w, "第 %d 层: 输入 %d, 输出 %d\n%v\n", i, l.inputSize, l.outputSize,
			mat.Formatted(l.weights, mat.Prefix("  "), mat.Squeeze()))
		if err != nil {
			return errors.Wrapf(err, "输出第 %d 层权重失败", i)
		}
	}
	return nil
}

// SetEpochHook 替换每轮结束后的回调，传入 nil 取消回调
func (nn *NeuronNetwork) SetEpochHook(hook func(EpochReport)) {
	nn.onEpoch = hook
}
