package network

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

/*
该文件包含神经网络层的封装、该层的前向传播和两种反向调整规则
每层自己持有权重、输出缓存、误差缓存和梯度累加器，相邻层只能只读访问
*/

// LayerConfig 层配置结构体
type LayerConfig struct {
	InputSize    int
	OutputSize   int
	LearningRate float64
	Momentum     float64
	Layout       GradientLayout
	Rule         DeltaRule
}

// LayerStats 记录各阶段被调用的次数
type LayerStats struct {
	Forwards      int `json:"forwards"`
	Backwards     int `json:"backwards"`
	MomentumSteps int `json:"momentum_steps"`
	WeightUpdates int `json:"weight_updates"`
}

type Layer struct {
	index        int
	inputSize    int
	outputSize   int
	learningRate float64
	momentum     float64
	layout       GradientLayout
	rule         DeltaRule

	weights  *mat.Dense    //该层的权重矩阵的大小为 outputSize*inputSize
	dWeights *mat.Dense    //梯度累加器，与权重同样大小
	outputs  *mat.VecDense //最近一次前向传播的激活值
	deltas   *mat.VecDense //最近一次反向传播的误差项
	backprop *mat.VecDense //隐藏层规则中 Wᵀ·δ 的临时结果

	stats LayerStats
}

// NewLayer 创建新的层，权重从 src 中按 [-1, 1] 均匀分布初始化
func NewLayer(config LayerConfig, src rand.Source) (*Layer, error) {
	if config.InputSize <= 0 || config.OutputSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "层宽度必须为正: 输入 %d, 输出 %d",
			config.InputSize, config.OutputSize)
	}
	if !config.Layout.fits(config.InputSize, config.OutputSize) {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s 寻址超出 %dx%d 层的梯度缓冲区",
			config.Layout, config.OutputSize, config.InputSize)
	}
	if src == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "缺少随机数源")
	}
	rule := config.Rule
	if rule.Output == nil || rule.Local == nil {
		rule = ReferenceDeltaRule
	}

	dist := distuv.Uniform{Min: -1, Max: 1, Src: src}
	data := make([]float64, config.InputSize*config.OutputSize)
	for i := range data {
		data[i] = dist.Rand()
	}

	return &Layer{
		index:        -1,
		inputSize:    config.InputSize,
		outputSize:   config.OutputSize,
		learningRate: config.LearningRate,
		momentum:     config.Momentum,
		layout:       config.Layout,
		rule:         rule,
		weights:      mat.NewDense(config.OutputSize, config.InputSize, data),
		dWeights:     mat.NewDense(config.OutputSize, config.InputSize, nil),
		outputs:      mat.NewVecDense(config.OutputSize, nil),
		deltas:       mat.NewVecDense(config.OutputSize, nil),
		backprop:     mat.NewVecDense(config.OutputSize, nil),
	}, nil
}

// Forward 计算 σ(W·x)，结果写入输出缓存并返回其只读视图
func (l *Layer) Forward(inputs mat.Vector) (mat.Vector, error) {
	out, err := l.forward(inputs)
	if err != nil {
		return nil, err
	}
	return readOnlyVector{out}, nil
}

// forward 返回输出缓存本身，只在包内使用
func (l *Layer) forward(inputs mat.Vector) (*mat.VecDense, error) {
	if inputs.Len() != l.inputSize {
		return nil, dimensionMismatch(StageForward, l.index, l.inputSize, inputs.Len())
	}
	l.outputs.MulVec(l.weights, inputs)
	for i := 0; i < l.outputSize; i++ {
		l.outputs.SetVec(i, ScaledSigmoid(l.outputs.AtVec(i)))
	}
	l.stats.Forwards++
	return l.outputs, nil
}

// AdjustAsOutputLayer 作为最后一层计算误差项并累加梯度，不直接修改权重
// inputs 是本层这次前向传播时的输入
func (l *Layer) AdjustAsOutputLayer(expected []int, inputs mat.Vector) error {
	if len(expected) != l.outputSize {
		return dimensionMismatch(StageTarget, l.index, l.outputSize, len(expected))
	}
	if inputs.Len() != l.inputSize {
		return dimensionMismatch(StageOutputBackward, l.index, l.inputSize, inputs.Len())
	}

	for i := 0; i < l.outputSize; i++ {
		// 预测值不用传入，每层都缓存了自己最近一次的输出
		y := l.outputs.AtVec(i)
		delta := l.rule.Output(float64(expected[i]), y)
		l.deltas.SetVec(i, delta)
		l.accumulate(i, delta, inputs)
	}
	l.stats.Backwards++
	return nil
}

// AdjustAsHiddenLayer 作为隐藏层，经由 next 的权重和已经更新过的误差项反向传播误差
func (l *Layer) AdjustAsHiddenLayer(next *Layer, inputs mat.Vector) error {
	if l.outputSize != next.inputSize {
		return dimensionMismatch(StageHiddenBackward, l.index, next.inputSize, l.outputSize)
	}
	if inputs.Len() != l.inputSize {
		return dimensionMismatch(StageHiddenBackward, l.index, l.inputSize, inputs.Len())
	}

	// Σ_j next.W[j,i]·next.δ[j]
	l.backprop.MulVec(next.weights.T(), next.deltas)
	for i := 0; i < l.outputSize; i++ {
		delta := l.backprop.AtVec(i) * l.rule.Local(l.outputs.AtVec(i))
		l.deltas.SetVec(i, delta)
		l.accumulate(i, delta, inputs)
	}
	l.stats.Backwards++
	return nil
}

// accumulate 在动量衰减后的累加器上叠加 learningRate·δ·x
func (l *Layer) accumulate(row int, delta float64, inputs mat.Vector) {
	data := l.dWeights.RawMatrix().Data
	scale := l.learningRate * delta
	for j := 0; j < l.inputSize; j++ {
		data[l.layout.Index(row, j, l.inputSize, l.outputSize)] += scale * inputs.AtVec(j)
	}
}

// ApplyMomentum 按动量衰减上一批次留下的梯度，代替清零
func (l *Layer) ApplyMomentum() {
	floats.Scale(l.momentum, l.dWeights.RawMatrix().Data)
	l.stats.MomentumSteps++
}

// UpdateWeights 把累加的梯度加到权重上，累加器保持不变
func (l *Layer) UpdateWeights() {
	l.weights.Add(l.weights, l.dWeights)
	l.stats.WeightUpdates++
}

func (l *Layer) Index() int { return l.index }
func (l *Layer) InputSize() int { return l.inputSize }
func (l *Layer) OutputSize() int { return l.outputSize }
func (l *Layer) LearningRate() float64 { return l.learningRate }
func (l *Layer) Momentum() float64 { return l.momentum }
func (l *Layer) Layout() GradientLayout { return l.layout }
func (l *Layer) Rule() DeltaRule { return l.rule }
func (l *Layer) Stats() LayerStats { return l.stats }
func (l *Layer) Weights() mat.Matrix { return readOnlyMatrix{l.weights} }
func (l *Layer) Gradients() mat.Matrix { return readOnlyMatrix{l.dWeights} }
func (l *Layer) Outputs() mat.Vector { return readOnlyVector{l.outputs} }
func (l *Layer) Deltas() mat.Vector { return readOnlyVector{l.deltas} }
func (l *Layer) GradientStride() int { return l.layout.Stride(l.inputSize, l.outputSize) }

func (l *Layer) String() string {
	return fmt.Sprintf("Layer{%d: %d -> %d, lr=%g, momentum=%g, %s, %s}",
		l.index, l.inputSize, l.outputSize, l.learningRate, l.momentum, l.layout, l.rule.Name)
}

// readOnlyMatrix 和 readOnlyVector 只暴露读取方法，调用方无法通过类型断言拿到层的缓冲区
type readOnlyMatrix struct{ m mat.Matrix }

func (r readOnlyMatrix) Dims() (int, int) { return r.m.Dims() }
func (r readOnlyMatrix) At(i, j int) float64 { return r.m.At(i, j) }
func (r readOnlyMatrix) T() mat.Matrix { return mat.Transpose{Matrix: r} }

type readOnlyVector struct{ v mat.Vector }

func (r readOnlyVector) Dims() (int, int) { return r.v.Dims() }
func (r readOnlyVector) At(i, j int) float64 { return r.v.At(i, j) }
func (r readOnlyVector) T() mat.Matrix { return mat.TransposeVec{Vector: r} }
func (r readOnlyVector) AtVec(i int) float64 { return r.v.AtVec(i) }
func (r readOnlyVector) Len() int { return r.v.Len() }
