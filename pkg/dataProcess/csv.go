package dataProcess

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Samples 可以直接交给网络训练的样本：特征向量 X 与整数目标向量 D
type Samples struct {
	X [][]float64
	D [][]int
}

func (s *Samples) Len() int { return len(s.X) }

// InputWidth 返回特征维度，没有样本时为 0
func (s *Samples) InputWidth() int {
	if len(s.X) == 0 {
		return 0
	}
	return len(s.X[0])
}

// XORSamples 内置的异或数据集
func XORSamples() *Samples {
	return &Samples{
		X: [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}},
		D: [][]int{{0}, {1}, {1}, {0}},
	}
}

// LoadCSV 读取数值型 CSV，每行最后 numTargets 列为整数目标值
// 以 # 开头的行视为注释，第一行如果无法解析为数字则视为表头跳过
func LoadCSV(r io.Reader, numTargets int) (*Samples, error) {
	if numTargets <= 0 {
		return nil, errors.Errorf("目标列数必须为正: %d", numTargets)
	}
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "读取 CSV 失败")
	}

	samples := &Samples{}
	width := -1
	for n, record := range records {
		if len(record) <= numTargets {
			return nil, errors.Errorf("第 %d 行只有 %d 列，至少需要 %d 列", n+1, len(record), numTargets+1)
		}
		features := len(record) - numTargets
		if width >= 0 && features != width {
			return nil, errors.Errorf("第 %d 行有 %d 个特征，之前的行有 %d 个", n+1, features, width)
		}

		x := make([]float64, features)
		d := make([]int, numTargets)
		err := parseRecord(record, x, d)
		if err != nil {
			if n == 0 {
				// 表头
				continue
			}
			return nil, errors.Wrapf(err, "解析第 %d 行失败", n+1)
		}
		width = features
		samples.X = append(samples.X, x)
		samples.D = append(samples.D, d)
	}
	if len(samples.X) == 0 {
		return nil, errors.New("CSV 中没有样本")
	}
	return samples, nil
}

func parseRecord(record []string, x []float64, d []int) error {
	for j := range x {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
		if err != nil {
			return err
		}
		x[j] = v
	}
	for j := range d {
		v, err := strconv.Atoi(strings.TrimSpace(record[len(x)+j]))
		if err != nil {
			return err
		}
		d[j] = v
	}
	return nil
}

// LoadCSVFile 打开文件并调用 LoadCSV
func LoadCSVFile(path string, numTargets int) (*Samples, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "无法打开 CSV 文件")
	}
	defer file.Close()
	return LoadCSV(file, numTargets)
}
