package config

import (
	"BPNet/pkg/dataProcess"
	"BPNet/pkg/network"
	"BPNet/pkg/training"
	"log"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

/*
该文件包含训练任务的配置文件解析
配置文件使用 YAML 格式，未填写的字段使用 NewDefaultConfig 中的默认值
*/

const (
	// MaxWidth 输入维度和单层输出维度的上限
	MaxWidth = 1 << 16
	// MaxLayerWeights 单层权重数量（输入维度 × 输出维度）的上限
	MaxLayerWeights = 1 << 24
)

// LayerSpec 单层配置
type LayerSpec struct {
	OutputWidth  int     `yaml:"output_width" json:"output_width"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Momentum     float64 `yaml:"momentum" json:"momentum"`
}

// NetworkSpec 网络超参数
type NetworkSpec struct {
	InputWidth        int     `yaml:"input_width" json:"input_width"`
	BatchSize         int     `yaml:"batch_size" json:"batch_size"`
	Epochs            int     `yaml:"epochs" json:"epochs"`
	Epsilon           float64 `yaml:"epsilon" json:"epsilon"`
	Verbose           bool    `yaml:"verbose" json:"verbose"`
	Seed              uint64  `yaml:"seed" json:"seed"`
	GradientLayout    string  `yaml:"gradient_layout" json:"gradient_layout"`
	DeltaRule         string  `yaml:"delta_rule" json:"delta_rule"`
	ValidateEachEpoch bool    `yaml:"validate_each_epoch" json:"validate_each_epoch"`
}

// DatasetSpec 数据来源，format 为 xor、csv 或 idx
type DatasetSpec struct {
	Format     string `yaml:"format"`
	Path       string `yaml:"path"`
	LabelsPath string `yaml:"labels_path"`
	NumTargets int    `yaml:"num_targets"` // csv 中目标列的数量
	NumClasses int    `yaml:"num_classes"` // idx 标签 one-hot 编码的类别数
}

type Config struct {
	Network NetworkSpec `yaml:"network"`
	Layers  []LayerSpec `yaml:"layers"`
	Dataset DatasetSpec `yaml:"dataset"`
	Store   string      `yaml:"store"` // sqlite 模型库路径，为空时不保存
	Port    string      `yaml:"port"`
}

// NewDefaultConfig 默认配置：2-3-1 网络在 XOR 数据集上训练 50 轮
func NewDefaultConfig() *Config {
	return &Config{
		Network: NetworkSpec{
			InputWidth: 2,
			BatchSize:  1,
			Epochs:     50,
			Epsilon:    0.1,
			Seed:       42,
		},
		Layers: []LayerSpec{
			{OutputWidth: 3, LearningRate: 0.3, Momentum: 0.5},
			{OutputWidth: 1, LearningRate: 0.3, Momentum: 0.5},
		},
		Dataset: DatasetSpec{Format: "xor", NumTargets: 1, NumClasses: 10},
		Port:    "8080",
	}
}

// Load 读取 YAML 配置文件，覆盖默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取配置文件失败")
	}
	return Parse(data)
}

// Parse 解析 YAML 配置
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "解析配置文件失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置的合法性
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if len(c.Layers) == 0 {
		return errors.Wrap(network.ErrInvalidConfig, "至少需要一层")
	}
	if err := ValidateLayers(c.Network.InputWidth, c.Layers); err != nil {
		return err
	}
	switch c.Dataset.Format {
	case "", "xor":
	case "csv":
		if c.Dataset.Path == "" {
			return errors.Wrap(network.ErrInvalidConfig, "csv 数据集缺少 path")
		}
	case "idx":
		if c.Dataset.Path == "" || c.Dataset.LabelsPath == "" {
			return errors.Wrap(network.ErrInvalidConfig, "idx 数据集需要 path 和 labels_path")
		}
		if c.Dataset.NumClasses <= 0 {
			return errors.Wrap(network.ErrInvalidConfig, "idx 数据集需要 num_classes")
		}
	default:
		return errors.Wrapf(network.ErrInvalidConfig, "未知的数据集格式 %q", c.Dataset.Format)
	}
	return nil
}

// Validate 检查该层接在宽度为 inputWidth 的层之后是否合法
func (l LayerSpec) Validate(inputWidth int) error {
	if l.OutputWidth <= 0 || l.OutputWidth > MaxWidth {
		return errors.Wrapf(network.ErrInvalidConfig, "输出维度必须在 1 到 %d 之间: %d", MaxWidth, l.OutputWidth)
	}
	if int64(inputWidth)*int64(l.OutputWidth) > MaxLayerWeights {
		return errors.Wrapf(network.ErrInvalidConfig, "权重数量 %d x %d 超过上限 %d",
			l.OutputWidth, inputWidth, MaxLayerWeights)
	}
	return nil
}

// ValidateLayers 按顺序检查每一层，第一层的输入维度为 inputWidth
func ValidateLayers(inputWidth int, layers []LayerSpec) error {
	width := inputWidth
	for i, l := range layers {
		if err := l.Validate(width); err != nil {
			return errors.Wrapf(err, "第 %d 层", i)
		}
		width = l.OutputWidth
	}
	return nil
}

// Validate 检查网络超参数，HTTP 接口创建模型时同样使用
func (n NetworkSpec) Validate() error {
	if n.InputWidth <= 0 || n.BatchSize <= 0 || n.Epochs <= 0 {
		return errors.Wrapf(network.ErrInvalidConfig, "input_width、batch_size、epochs 必须为正: %d, %d, %d",
			n.InputWidth, n.BatchSize, n.Epochs)
	}
	if n.InputWidth > MaxWidth {
		return errors.Wrapf(network.ErrInvalidConfig, "input_width 不能超过 %d: %d", MaxWidth, n.InputWidth)
	}
	if _, err := network.ParseGradientLayout(n.GradientLayout); err != nil {
		return err
	}
	if _, ok := network.DeltaRuleByName(n.DeltaRule); !ok {
		return errors.Wrapf(network.ErrInvalidConfig, "未知的误差规则 %q", n.DeltaRule)
	}
	return nil
}

// NetworkConfig 转换为网络配置
func (n NetworkSpec) NetworkConfig(logger *log.Logger) (network.NetworkConfig, error) {
	layout, err := network.ParseGradientLayout(n.GradientLayout)
	if err != nil {
		return network.NetworkConfig{}, err
	}
	rule, ok := network.DeltaRuleByName(n.DeltaRule)
	if !ok {
		return network.NetworkConfig{}, errors.Wrapf(network.ErrInvalidConfig, "未知的误差规则 %q", n.DeltaRule)
	}
	config := network.NewNetworkConfig(n.InputWidth)
	config.BatchSize = n.BatchSize
	config.Epochs = n.Epochs
	config.Epsilon = n.Epsilon
	config.Verbose = n.Verbose
	config.Seed = n.Seed
	config.Layout = layout
	config.Rule = rule
	config.ValidateEachEpoch = n.ValidateEachEpoch
	config.Logger = logger
	return config, nil
}

// BuildNetwork 按网络和层配置搭建网络，超过维度上限的配置直接拒绝
func BuildNetwork(spec NetworkSpec, layers []LayerSpec, logger *log.Logger) (*network.NeuronNetwork, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateLayers(spec.InputWidth, layers); err != nil {
		return nil, err
	}
	config, err := spec.NetworkConfig(logger)
	if err != nil {
		return nil, err
	}
	nn, err := network.NewNeuronNetwork(config)
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		if err := nn.AddLayer(l.OutputWidth, l.LearningRate, l.Momentum); err != nil {
			return nil, err
		}
	}
	return nn, nil
}

// BuildNetwork 使用该配置搭建网络
func (c *Config) BuildNetwork(logger *log.Logger) (*network.NeuronNetwork, error) {
	return BuildNetwork(c.Network, c.Layers, logger)
}

// LoadSamples 按数据集配置加载样本
func (c *Config) LoadSamples() (*dataProcess.Samples, error) {
	switch c.Dataset.Format {
	case "csv":
		return dataProcess.LoadCSVFile(c.Dataset.Path, c.Dataset.NumTargets)
	case "idx":
		ds, err := dataProcess.LoadIDXDataset(c.Dataset.Path, c.Dataset.LabelsPath)
		if err != nil {
			return nil, err
		}
		return training.PrepareData(ds, c.Dataset.NumClasses), nil
	}
	return dataProcess.XORSamples(), nil
}
