package network

import (
	"math"
)

// SigmoidScale 压平后的 sigmoid 曲线斜率，减缓饱和
const SigmoidScale = 0.01

// ScaledSigmoid σ(x) = 1 / (1 + exp(-k·x))，k = SigmoidScale
func ScaledSigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-SigmoidScale*x))
}

// DeltaRule 描述反向传播中误差项的计算方式
// Output 根据目标值 d 和缓存的输出 y 计算输出层的 delta
// Local 根据缓存的输出 y 计算激活函数的局部导数，用于隐藏层
type DeltaRule struct {
	Name   string
	Output func(d, y float64) float64
	Local  func(y float64) float64
}

// ReferenceDeltaRule 默认规则，输出按平方参与计算：(d - y²)·y²·(1 - y²)
// 隐藏层的局部导数同样为 y²·(1 - y²)
var ReferenceDeltaRule = DeltaRule{
	Name: "reference",
	Output: func(d, y float64) float64 {
		y2 := y * y
		return (d - y2) * y2 * (1 - y2)
	},
	Local: func(y float64) float64 {
		y2 := y * y
		return y2 * (1 - y2)
	},
}

// LogisticDeltaRule 标准 sigmoid 导数：(d - y)·y·(1 - y)
var LogisticDeltaRule = DeltaRule{
	Name: "logistic",
	Output: func(d, y float64) float64 {
		return (d - y) * y * (1 - y)
	},
	Local: func(y float64) float64 {
		return y * (1 - y)
	},
}

// DeltaRuleByName 根据名字查找误差规则，空字符串返回默认规则
func DeltaRuleByName(name string) (DeltaRule, bool) {
	switch name {
	case "", ReferenceDeltaRule.Name:
		return ReferenceDeltaRule, true
	case LogisticDeltaRule.Name:
		return LogisticDeltaRule, true
	}
	return DeltaRule{}, false
}

// toleranceError 误差落在 epsilon 死区内时记为 0
func toleranceError(d, y, epsilon float64) float64 {
	if math.Abs(d-y) <= epsilon {
		return 0
	}
	return d - y
}
