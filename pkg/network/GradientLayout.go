package network

import (
	"fmt"

	"github.com/pkg/errors"
)

// GradientLayout 决定梯度累加器按怎样的行跨度寻址
//
// 权重矩阵按行主序存储，行跨度为输入宽度，Forward 读取 (i, j) 时访问
// weights[i*inputWidth + j]。LayoutInputStride 让累加器的 (i, j) 与该权重位置
// 一一对应；LayoutOutputStride 以输出宽度为跨度寻址 dWeights[i*outputWidth + j]，
// 对于非方阵层它写入的位置与 Forward 读取的位置并不相同。
type GradientLayout int

const (
	LayoutInputStride GradientLayout = iota
	LayoutOutputStride
)

func (g GradientLayout) String() string {
	switch g {
	case LayoutInputStride:
		return "input-stride"
	case LayoutOutputStride:
		return "output-stride"
	}
	return fmt.Sprintf("GradientLayout(%d)", int(g))
}

// ParseGradientLayout 解析配置文件中的寻址方式
func ParseGradientLayout(s string) (GradientLayout, error) {
	switch s {
	case "", "input-stride":
		return LayoutInputStride, nil
	case "output-stride":
		return LayoutOutputStride, nil
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "未知的梯度寻址方式 %q", s)
}

// Stride 返回给定层宽度下的行跨度
func (g GradientLayout) Stride(inputWidth, outputWidth int) int {
	if g == LayoutOutputStride {
		return outputWidth
	}
	return inputWidth
}

// Index 返回 (row, col) 在长度为 inputWidth*outputWidth 的扁平缓冲区中的位置
func (g GradientLayout) Index(row, col, inputWidth, outputWidth int) int {
	return row*g.Stride(inputWidth, outputWidth) + col
}

// fits 检查所有 (i, j) 的寻址都落在缓冲区之内
// 最大下标为 (outputWidth-1)*stride + inputWidth-1
func (g GradientLayout) fits(inputWidth, outputWidth int) bool {
	last := g.Index(outputWidth-1, inputWidth-1, inputWidth, outputWidth)
	return last < inputWidth*outputWidth
}
