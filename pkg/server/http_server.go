package server

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// HTTPServer HTTP服务器
type HTTPServer struct {
	//Gin框架的路由引擎，可通过Router.POST()等方法注册API路由和处理函数
	Router *gin.Engine
	//HTTP服务器监听的端口号
	Port string

	server *http.Server
	logger *log.Logger
}

// NewHTTPServer 创建新的HTTP服务器
func NewHTTPServer(port string, logger *log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	return &HTTPServer{
		Router: router,
		Port:   port,
		server: &http.Server{Addr: ":" + port, Handler: router},
		logger: logger,
	}
}

// Start 启动HTTP服务器，阻塞直到服务器关闭
func (hs *HTTPServer) Start() error {
	hs.logger.Printf("模型服务启动中, 监听地址: 0.0.0.0:%s\n", hs.Port)
	hs.logger.Printf("健康检查: http://localhost:%s/health\n", hs.Port)

	if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "HTTP服务器异常退出")
	}
	return nil
}

// Stop 优雅关闭HTTP服务器
func (hs *HTTPServer) Stop(ctx context.Context) error {
	hs.logger.Printf("正在关闭模型服务...\n")
	return hs.server.Shutdown(ctx)
}

// GetRouter 获取路由器
func (hs *HTTPServer) GetRouter() *gin.Engine {
	return hs.Router
}
