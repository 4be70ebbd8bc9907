package network

import (
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

/*
该文件包含网络的前向传播、反向传播和按批次训练的流程
此外还有验证误差的计算
*/

// TrainingFraction 按下标取前 80% 的样本作为训练集，其余留作验证
const TrainingFraction = 0.8

// TrainingSplit 返回训练集的样本数，也就是验证集的起始下标
func TrainingSplit(numExamples int) int {
	return int(TrainingFraction * float64(numExamples))
}

// feedForward 整个网络的前向传播，顺带刷新每层的输出缓存
func (nn *NeuronNetwork) feedForward(input mat.Vector) (mat.Vector, error) {
	a := input
	for _, layer := range nn.layers {
		out, err := layer.forward(a)
		if err != nil {
			return nil, err
		}
		a = out
	}
	return a, nil
}

// Predict 前向传播一个样本，返回最后一层输出的副本
// 每层的输出缓存都会被刷新，紧接着的反向传播直接读取这些缓存
func (nn *NeuronNetwork) Predict(inputs []float64) ([]float64, error) {
	if len(inputs) != nn.inputWidth {
		return nil, dimensionMismatch(StageInput, -1, nn.inputWidth, len(inputs))
	}
	out, err := nn.feedForward(mat.NewVecDense(len(inputs), inputs))
	if err != nil {
		return nil, err
	}
	result := make([]float64, out.Len())
	for i := range result {
		result[i] = out.AtVec(i)
	}
	return result, nil
}

// Train 使用前 80% 的样本训练 epochs 轮，每次调用都在现有权重上继续训练
func (nn *NeuronNetwork) Train(X [][]float64, d [][]int) error {
	if len(X) != len(d) {
		return &SizeMismatchError{Inputs: len(X), Targets: len(d)}
	}
	if len(nn.layers) == 0 {
		return ErrNoLayers
	}
	for i := range X {
		if len(X[i]) != nn.inputWidth {
			return atExample(dimensionMismatch(StageInput, -1, nn.inputWidth, len(X[i])), i)
		}
		if len(d[i]) != nn.outputWidth {
			return atExample(dimensionMismatch(StageTarget, len(nn.layers)-1, nn.outputWidth, len(d[i])), i)
		}
	}
	nn.frozen = true

	lastTrainingIndex := TrainingSplit(len(X))
	for epoch := 0; epoch < nn.epochs; epoch++ {
		start := time.Now()
		updates, err := nn.batchUpdate(X, d, lastTrainingIndex)
		if err != nil {
			return errors.Wrapf(err, "第 %d 轮训练失败", epoch+1)
		}

		report := EpochReport{
			Epoch:            epoch + 1,
			Epochs:           nn.epochs,
			TrainingExamples: lastTrainingIndex,
			WeightUpdates:    updates,
		}
		if nn.validateEachEpoch && lastTrainingIndex < len(X) {
			report.ValidationError, err = nn.ValidateModel(X, d, lastTrainingIndex)
			if err != nil {
				return errors.Wrapf(err, "第 %d 轮验证失败", epoch+1)
			}
			report.Validated = true
		}
		report.Elapsed = time.Since(start)

		if nn.verbose {
			if report.Validated {
				nn.logger.Printf("第 %d/%d 轮训练 - 验证误差: %.4f, 耗时 %v\n",
					report.Epoch, report.Epochs, report.ValidationError, report.Elapsed)
			} else {
				nn.logger.Printf("第 %d/%d 轮训练完成, 权重更新 %d 次, 耗时 %v\n",
					report.Epoch, report.Epochs, report.WeightUpdates, report.Elapsed)
			}
		}
		if nn.onEpoch != nil {
			nn.onEpoch(report)
		}
	}
	return nil
}

// batchUpdate 一轮训练：先衰减梯度，再逐个样本前向、反向，每 batchSize 个样本更新一次权重
// 返回本轮权重更新的次数
func (nn *NeuronNetwork) batchUpdate(X [][]float64, d [][]int, lastTrainingIndex int) (int, error) {
	// 根据上一批次留下的梯度施加动量
	for _, l := range nn.layers {
		l.ApplyMomentum()
	}

	last := len(nn.layers) - 1
	updates := 0
	i := 0
	for i < lastTrainingIndex {
		x := mat.NewVecDense(len(X[i]), X[i])
		if _, err := nn.feedForward(x); err != nil {
			return updates, atExample(err, i)
		}

		// 输出层的输入是前一层的缓存输出，只有一层时就是原始输入
		var inputs mat.Vector = x
		if last > 0 {
			inputs = nn.layers[last-1].outputs
		}
		if err := nn.layers[last].AdjustAsOutputLayer(d[i], inputs); err != nil {
			return updates, atExample(err, i)
		}

		// 从倒数第二层往前逐层调整隐藏层
		for j := last - 1; j >= 0; j-- {
			inputs = x
			if j > 0 {
				inputs = nn.layers[j-1].outputs
			}
			if err := nn.layers[j].AdjustAsHiddenLayer(nn.layers[j+1], inputs); err != nil {
				return updates, atExample(err, i)
			}
		}

		i++
		if i%nn.batchSize == 0 {
			nn.updateWeights()
			updates++
		}
	}
	if i%nn.batchSize != 0 {
		// 循环结束时还有不满一批的样本，补一次更新
		nn.updateWeights()
		updates++
	}
	return updates, nil
}

func (nn *NeuronNetwork) updateWeights() {
	for _, l := range nn.layers {
		l.UpdateWeights()
	}
}

// ValidateModel 从 firstValidationIndex 开始逐个预测，累加每个输出单元的平方误差
// 误差落在 epsilon 之内的单元记为 0
func (nn *NeuronNetwork) ValidateModel(X [][]float64, d [][]int, firstValidationIndex int) (float64, error) {
	if len(X) != len(d) {
		return 0, &SizeMismatchError{Inputs: len(X), Targets: len(d)}
	}
	if firstValidationIndex < 0 {
		return 0, errors.Wrapf(ErrInvalidConfig, "验证起始下标不能为负: %d", firstValidationIndex)
	}

	total := 0.0
	for i := firstValidationIndex; i < len(X); i++ {
		predicted, err := nn.Predict(X[i])
		if err != nil {
			return 0, atExample(err, i)
		}
		expected := d[i]
		if len(expected) != len(predicted) {
			return 0, atExample(dimensionMismatch(StageTarget, len(nn.layers)-1, len(predicted), len(expected)), i)
		}
		for j := range predicted {
			e := toleranceError(float64(expected[j]), predicted[j], nn.epsilon)
			total += e * e
		}
	}
	return total, nil
}
