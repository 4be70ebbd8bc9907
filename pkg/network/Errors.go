package network

import (
	"fmt"

	"github.com/pkg/errors"
)

/*
该文件定义网络的错误类型
维度、样本数量不匹配都属于调用方的配置错误，直接返回给调用方，不做重试
*/

var (
	// ErrDimensionMismatch 向量长度与层的声明宽度不一致
	ErrDimensionMismatch = errors.New("维度不匹配")
	// ErrSizeMismatch 输入样本数量与目标数量不一致
	ErrSizeMismatch = errors.New("样本数量不匹配")
	// ErrInvalidConfig 网络或层的超参数非法
	ErrInvalidConfig = errors.New("网络配置非法")
	// ErrTopologyFrozen 训练开始后不允许再添加层
	ErrTopologyFrozen = errors.New("网络结构已冻结")
	// ErrNoLayers 网络中还没有任何层
	ErrNoLayers = errors.New("网络中没有层")
)

// 维度检查发生的阶段
const (
	StageForward        = "forward"
	StageOutputBackward = "output-backward"
	StageHiddenBackward = "hidden-backward"
	StageInput          = "input"
	StageTarget         = "target"
)

// DimensionMismatchError 携带出错位置和两个不一致的宽度
type DimensionMismatchError struct {
	Stage    string
	Layer    int // 出错层的下标，-1 表示网络输入本身
	Example  int // 出错样本的下标，-1 表示与具体样本无关
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	msg := fmt.Sprintf("%v: 阶段 %s, 层 %d, 期望宽度 %d, 实际宽度 %d",
		ErrDimensionMismatch, e.Stage, e.Layer, e.Expected, e.Actual)
	if e.Example >= 0 {
		msg += fmt.Sprintf(", 样本 %d", e.Example)
	}
	return msg
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// SizeMismatchError 训练数据 X 与 d 的样本数量不同
type SizeMismatchError struct {
	Inputs  int
	Targets int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%v: 输入 %d 个, 目标 %d 个", ErrSizeMismatch, e.Inputs, e.Targets)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

func dimensionMismatch(stage string, layer, expected, actual int) error {
	return &DimensionMismatchError{
		Stage:    stage,
		Layer:    layer,
		Example:  -1,
		Expected: expected,
		Actual:   actual,
	}
}

// atExample 给维度错误补上样本下标，其他错误原样返回
func atExample(err error, example int) error {
	var dm *DimensionMismatchError
	if errors.As(err, &dm) && dm.Example < 0 {
		dm.Example = example
	}
	return err
}
