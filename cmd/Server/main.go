package main

import (
	"BPNet/pkg/config"
	"BPNet/pkg/server"
	"BPNet/pkg/store"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径，只使用其中的 port 和 store")
	port := flag.String("port", "", "监听端口，覆盖配置文件")
	storePath := flag.String("store", "", "sqlite 模型库路径，覆盖配置文件")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *storePath != "" {
		cfg.Store = *storePath
	}

	var st *store.Store
	if cfg.Store != "" {
		var err error
		if st, err = store.Open(cfg.Store); err != nil {
			log.Fatalf("打开模型库失败: %v", err)
		}
		defer st.Close()
		logger.Printf("模型库: %s\n", cfg.Store)
	} else {
		logger.Printf("未配置模型库，保存和加载接口不可用\n")
	}

	hs := server.NewHTTPServer(cfg.Port, logger)
	server.NewService(st, logger).RegisterRoutes(hs.GetRouter())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Printf("服务异常退出: %v\n", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Stop(shutdownCtx); err != nil {
			logger.Printf("关闭服务失败: %v\n", err)
		}
	}
}
