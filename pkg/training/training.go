package training

import (
	"BPNet/pkg/dataProcess"
	"BPNet/pkg/network"
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Report 一次训练前后的指标
type Report struct {
	InitialError    float64
	InitialAccuracy float64
	FinalError      float64
	FinalAccuracy   float64
	TrainTime       time.Duration
	InferenceTime   time.Duration
}

// OneHotEncode 将标签转换为one-hot编码
func OneHotEncode(label int, numClasses int) []int {
	oneHot := make([]int, numClasses)
	if label >= 0 && label < numClasses {
		oneHot[label] = 1
	}
	return oneHot
}

// PrepareData 准备训练数据：像素值归一化到 0-1 之间，标签转为 one-hot
func PrepareData(dataset *dataProcess.Dataset, numClasses int) *dataProcess.Samples {
	samples := &dataProcess.Samples{
		X: make([][]float64, len(dataset.Images)),
		D: make([][]int, len(dataset.Labels)),
	}
	for i, img := range dataset.Images {
		input := make([]float64, len(img))
		for j, px := range img {
			input[j] = float64(px) / 255.0
		}
		samples.X[i] = input
	}
	for i, label := range dataset.Labels {
		samples.D[i] = OneHotEncode(int(label), numClasses)
	}
	return samples
}

// Evaluate 计算准确率：预测中最大的输出与目标中最大的值位于同一位置即视为正确
func Evaluate(nn *network.NeuronNetwork, X [][]float64, d [][]int) (float64, error) {
	if len(X) != len(d) {
		return 0, &network.SizeMismatchError{Inputs: len(X), Targets: len(d)}
	}
	if len(X) == 0 {
		return 0, nil
	}

	correct := 0
	for i := range X {
		output, err := nn.Predict(X[i])
		if err != nil {
			return 0, errors.Wrapf(err, "预测第 %d 个样本失败", i)
		}
		if Correct(output, d[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(X)), nil
}

// Correct 判断一次预测是否正确
// 单个输出单元时按 0.5 阈值二分类，多个输出单元时比较最大值所在位置
func Correct(output []float64, target []int) bool {
	if len(output) != len(target) || len(output) == 0 {
		return false
	}
	if len(output) == 1 {
		predicted := 0
		if output[0] >= 0.5 {
			predicted = 1
		}
		return predicted == target[0]
	}
	expected := make([]float64, len(target))
	for i, v := range target {
		expected[i] = float64(v)
	}
	return floats.MaxIdx(output) == floats.MaxIdx(expected)
}

// TrainModel 训练模型，并在训练前后分别计算验证误差和准确率
// 验证误差在后 20% 的验证集上计算，准确率在全部样本上计算
func TrainModel(nn *network.NeuronNetwork, samples *dataProcess.Samples, logger *log.Logger) (*Report, error) {
	if logger == nil {
		logger = log.Default()
	}
	report := &Report{}
	split := network.TrainingSplit(samples.Len())

	var err error
	// 训练前评估
	if report.InitialError, err = nn.ValidateModel(samples.X, samples.D, split); err != nil {
		return nil, errors.Wrap(err, "训练前评估失败")
	}
	if report.InitialAccuracy, err = Evaluate(nn, samples.X, samples.D); err != nil {
		return nil, errors.Wrap(err, "训练前评估失败")
	}
	logger.Printf("训练前 - 验证误差: %.4f, 准确率: %.2f%%\n", report.InitialError, report.InitialAccuracy*100)

	// 训练模型
	startTrain := time.Now()
	if err := nn.Train(samples.X, samples.D); err != nil {
		return nil, errors.Wrap(err, "训练失败")
	}
	report.TrainTime = time.Since(startTrain)
	logger.Printf("训练耗时: %v\n", report.TrainTime)

	// 训练后评估
	startInference := time.Now()
	if report.FinalError, err = nn.ValidateModel(samples.X, samples.D, split); err != nil {
		return nil, errors.Wrap(err, "训练后评估失败")
	}
	if report.FinalAccuracy, err = Evaluate(nn, samples.X, samples.D); err != nil {
		return nil, errors.Wrap(err, "训练后评估失败")
	}
	report.InferenceTime = time.Since(startInference)
	logger.Printf("推理耗时: %v\n", report.InferenceTime)
	logger.Printf("训练后 - 验证误差: %.4f, 准确率: %.2f%%\n", report.FinalError, report.FinalAccuracy*100)

	return report, nil
}
