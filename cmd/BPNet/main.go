package main

import (
	"BPNet/pkg/config"
	"BPNet/pkg/network"
	"BPNet/pkg/store"
	"BPNet/pkg/training"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径，为空时在 XOR 数据集上训练默认网络")
	storePath := flag.String("store", "", "sqlite 模型库路径，覆盖配置文件中的 store")
	name := flag.String("name", "bpnet", "保存到模型库时使用的模型名称")
	showWeights := flag.Bool("weights", false, "训练结束后输出每层权重")
	samplesToShow := flag.Int("show", 10, "展示预测结果的样本数量")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// 加载配置
	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	}
	if *storePath != "" {
		cfg.Store = *storePath
	}

	// 加载数据集
	samples, err := cfg.LoadSamples()
	if err != nil {
		log.Fatalf("加载数据集失败: %v", err)
	}
	fmt.Printf("数据集包含 %d 个样本, 其中 %d 个用于训练\n", samples.Len(), network.TrainingSplit(samples.Len()))

	// 创建神经网络
	nn, err := cfg.BuildNetwork(logger)
	if err != nil {
		log.Fatalf("创建网络失败: %v", err)
	}
	fmt.Printf("网络结构: 输入 %d", nn.InputWidth())
	for i := 0; i < nn.NumLayers(); i++ {
		fmt.Printf(" -> %d", nn.Layer(i).OutputSize())
	}
	fmt.Printf(", 批次大小 %d, 训练轮数 %d\n", nn.BatchSize(), nn.Epochs())

	// 训练模型
	fmt.Println("开始训练模型...")
	if _, err := training.TrainModel(nn, samples, logger); err != nil {
		log.Fatalf("训练失败: %v", err)
	}

	// 展示一些样本的预测结果
	fmt.Println("\n样本预测结果:")
	for i := 0; i < *samplesToShow && i < samples.Len(); i++ {
		prediction, err := nn.Predict(samples.X[i])
		if err != nil {
			log.Fatalf("预测失败: %v", err)
		}
		fmt.Printf("样本 %d 的预测: %.4f, 目标: %v\n", i+1, prediction, samples.D[i])
	}

	if *showWeights {
		fmt.Println("\n网络权重:")
		if err := nn.WriteWeights(os.Stdout); err != nil {
			log.Fatalf("输出权重失败: %v", err)
		}
	}

	if cfg.Store == "" {
		return
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("打开模型库失败: %v", err)
	}
	defer st.Close()

	snap, err := nn.Snapshot()
	if err != nil {
		log.Fatalf("导出网络失败: %v", err)
	}
	id := uuid.New().String()
	if err := st.Save(context.Background(), id, *name, snap); err != nil {
		log.Fatalf("保存模型失败: %v", err)
	}
	fmt.Printf("\n模型已保存到 %s, id: %s\n", cfg.Store, id)
}
