package server

import (
	"BPNet/pkg/config"
	"BPNet/pkg/network"
	"BPNet/pkg/store"
	"bytes"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

/*
该文件包含模型服务：在内存中维护多个网络，通过 HTTP 接口搭建、训练、预测
训练进度通过 websocket 推送，模型可以保存到 sqlite 模型库
*/

var (
	ErrUnknownModel = errors.New("模型不存在")
	ErrModelBusy    = errors.New("模型正在被其他请求使用")
	ErrNoStore      = errors.New("未配置模型库")
)

// Service 模型服务
type Service struct {
	registry *Registry
	hub      *Hub
	store    *store.Store // 可以为空
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewService 创建模型服务，st 为空时保存、加载接口返回 503
func NewService(st *store.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		registry: NewRegistry(),
		hub:      NewHub(),
		store:    st,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Hub() *Hub { return s.hub }

// RegisterRoutes 注册所有路由
func (s *Service) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.healthHandler)

	models := r.Group("/models")
	models.POST("", s.createHandler)
	models.GET("", s.listHandler)
	models.GET("/:id", s.getHandler)
	models.DELETE("/:id", s.deleteHandler)
	models.POST("/:id/layers", s.addLayerHandler)
	models.POST("/:id/train", s.trainHandler)
	models.POST("/:id/predict", s.predictHandler)
	models.POST("/:id/validate", s.validateHandler)
	models.GET("/:id/weights", s.weightsHandler)
	models.GET("/:id/snapshot", s.snapshotHandler)
	models.GET("/:id/progress", s.progressHandler)
	models.POST("/:id/save", s.saveHandler)

	stored := r.Group("/store")
	stored.GET("", s.storeListHandler)
	stored.POST("/:id/load", s.storeLoadHandler)
	stored.DELETE("/:id", s.storeDeleteHandler)
}

// statusFor 将错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownModel), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, network.ErrTopologyFrozen), errors.Is(err, ErrModelBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, network.ErrDimensionMismatch),
		errors.Is(err, network.ErrSizeMismatch),
		errors.Is(err, network.ErrInvalidConfig),
		errors.Is(err, network.ErrNoLayers):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Service) fail(ctx *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("请求 %s %s 失败: %v\n", ctx.Request.Method, ctx.Request.URL.Path, err)
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// acquire 取出模型并加锁，调用方负责解锁
func (s *Service) acquire(id string) (*Model, error) {
	m, ok := s.registry.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "id %s", id)
	}
	if !m.mu.TryLock() {
		return nil, errors.Wrapf(ErrModelBusy, "id %s", id)
	}
	return m, nil
}

// withModel 在持有模型锁的情况下执行 fn
func (s *Service) withModel(ctx *gin.Context, fn func(m *Model) error) {
	m, err := s.acquire(ctx.Param("id"))
	if err != nil {
		s.fail(ctx, err)
		return
	}
	defer m.mu.Unlock()
	if err := fn(m); err != nil {
		s.fail(ctx, err)
	}
}

// register 注册网络并把训练进度接入 hub
func (s *Service) register(id, name string, nn *network.NeuronNetwork) *Model {
	var m *Model
	if id == "" {
		m = s.registry.Add(name, nn)
	} else {
		m = s.registry.Put(id, name, nn)
	}
	nn.SetEpochHook(func(report network.EpochReport) {
		s.hub.Publish(m.ID, report)
	})
	return m
}

// ==================== HTTP处理器方法 ====================

func (s *Service) healthHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"models": len(s.registry.Models()),
		"store":  s.store != nil,
	})
}

// CreateRequest POST /models 的请求体，未填写的网络参数使用默认配置
type CreateRequest struct {
	Name    string             `json:"name"`
	Network config.NetworkSpec `json:"network"`
	Layers  []config.LayerSpec `json:"layers"`
}

func (s *Service) createHandler(ctx *gin.Context) {
	req := CreateRequest{Network: config.NewDefaultConfig().Network}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "请求解析失败: " + err.Error()})
		return
	}
	if err := req.Network.Validate(); err != nil {
		s.fail(ctx, err)
		return
	}
	nn, err := config.BuildNetwork(req.Network, req.Layers, s.logger)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	m := s.register("", req.Name, nn)
	m.mu.Lock()
	defer m.mu.Unlock()
	s.logger.Printf("创建模型 %s (%s): %d 层\n", m.ID, m.Name, nn.NumLayers())
	ctx.JSON(http.StatusCreated, m.summary())
}

func (s *Service) listHandler(ctx *gin.Context) {
	models := s.registry.Models()
	summaries := make([]ModelSummary, 0, len(models))
	for _, m := range models {
		if !m.mu.TryLock() {
			// 训练中的模型只返回基本信息
			summaries = append(summaries, ModelSummary{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt})
			continue
		}
		summaries = append(summaries, m.summary())
		m.mu.Unlock()
	}
	ctx.JSON(http.StatusOK, summaries)
}

func (s *Service) getHandler(ctx *gin.Context) {
	s.withModel(ctx, func(m *Model) error {
		ctx.JSON(http.StatusOK, m.summary())
		return nil
	})
}

func (s *Service) deleteHandler(ctx *gin.Context) {
	s.withModel(ctx, func(m *Model) error {
		s.registry.Remove(m.ID)
		m.nn.SetEpochHook(nil)
		s.hub.Close(m.ID)
		s.logger.Printf("删除模型 %s\n", m.ID)
		ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
		return nil
	})
}

func (s *Service) addLayerHandler(ctx *gin.Context) {
	var req config.LayerSpec
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "请求解析失败: " + err.Error()})
		return
	}
	s.withModel(ctx, func(m *Model) error {
		if err := req.Validate(m.nn.OutputWidth()); err != nil {
			return err
		}
		if err := m.nn.AddLayer(req.OutputWidth, req.LearningRate, req.Momentum); err != nil {
			return err
		}
		ctx.JSON(http.StatusOK, m.summary())
		return nil
	})
}

// SamplesRequest 训练、验证请求体
type SamplesRequest struct {
	Inputs  [][]float64 `json:"inputs"`
	Targets [][]int     `json:"targets"`
	// 验证集的起始下标，为空时使用后 20%
	First *int `json:"first,omitempty"`
}

// TrainResponse 训练结果
type TrainResponse struct {
	Epochs          int                  `json:"epochs"`
	ValidationError float64              `json:"validation_error"`
	LayerStats      []network.LayerStats `json:"layer_stats"`
}

func (s *Service) trainHandler(ctx *gin.Context) {
	var req SamplesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "请求解析失败: " + err.Error()})
		return
	}
	s.withModel(ctx, func(m *Model) error {
		if err := m.nn.Train(req.Inputs, req.Targets); err != nil {
			return err
		}
		vErr, err := m.nn.ValidateModel(req.Inputs, req.Targets, network.TrainingSplit(len(req.Inputs)))
		if err != nil {
			return err
		}
		s.logger.Printf("模型 %s 训练完成, 验证误差: %.4f\n", m.ID, vErr)
		ctx.JSON(http.StatusOK, TrainResponse{
			Epochs:          m.nn.Epochs(),
			ValidationError: vErr,
			LayerStats:      m.nn.LayerStats(),
		})
		return nil
	})
}

func (s *Service) predictHandler(ctx *gin.Context) {
	var req struct {
		Inputs []float64 `json:"inputs"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "请求解析失败: " + err.Error()})
		return
	}
	s.withModel(ctx, func(m *Model) error {
		outputs, err := m.nn.Predict(req.Inputs)
		if err != nil {
			return err
		}
		ctx.JSON(http.StatusOK, gin.H{"outputs": outputs})
		return nil
	})
}

func (s *Service) validateHandler(ctx *gin.Context) {
	var req SamplesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "请求解析失败: " + err.Error()})
		return
	}
	first := network.TrainingSplit(len(req.Inputs))
	if req.First != nil {
		first = *req.First
	}
	s.withModel(ctx, func(m *Model) error {
		vErr, err := m.nn.ValidateModel(req.Inputs, req.Targets, first)
		if err != nil {
			return err
		}
		ctx.JSON(http.StatusOK, gin.H{"first": first, "validation_error": vErr})
		return nil
	})
}

func (s *Service) weightsHandler(ctx *gin.Context) {
	s.withModel(ctx, func(m *Model) error {
		var buf bytes.Buffer
		if err := m.nn.WriteWeights(&buf); err != nil {
			return err
		}
		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
		return nil
	})
}

func (s *Service) snapshotHandler(ctx *gin.Context) {
	s.withModel(ctx, func(m *Model) error {
		snap, err := m.nn.Snapshot()
		if err != nil {
			return err
		}
		ctx.JSON(http.StatusOK, snap)
		return nil
	})
}

// progressHandler 将训练进度以 JSON 推送到 websocket，直到客户端断开
func (s *Service) progressHandler(ctx *gin.Context) {
	id := ctx.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		s.fail(ctx, errors.Wrapf(ErrUnknownModel, "id %s", id))
		return
	}
	// 先订阅再升级，握手完成后发生的训练不会漏掉
	reports, cancel := s.hub.Subscribe(id)
	defer cancel()

	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.logger.Printf("websocket 升级失败: %v\n", err)
		return
	}
	defer conn.Close()

	// 读取并丢弃客户端消息，连接关闭时退出
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case report, ok := <-reports:
			if !ok {
				// 模型已被删除
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "模型已删除")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(report); err != nil {
				return
			}
		}
	}
}

func (s *Service) saveHandler(ctx *gin.Context) {
	if s.store == nil {
		s.fail(ctx, ErrNoStore)
		return
	}
	s.withModel(ctx, func(m *Model) error {
		snap, err := m.nn.Snapshot()
		if err != nil {
			return err
		}
		if err := s.store.Save(ctx.Request.Context(), m.ID, m.Name, snap); err != nil {
			return err
		}
		s.logger.Printf("模型 %s 已保存\n", m.ID)
		ctx.JSON(http.StatusOK, gin.H{"status": "saved", "id": m.ID})
		return nil
	})
}

func (s *Service) storeListHandler(ctx *gin.Context) {
	if s.store == nil {
		s.fail(ctx, ErrNoStore)
		return
	}
	infos, err := s.store.List(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if infos == nil {
		infos = []store.ModelInfo{}
	}
	ctx.JSON(http.StatusOK, infos)
}

// storeLoadHandler 从模型库加载模型，以原 id 注册，内存中的同名模型被替换
func (s *Service) storeLoadHandler(ctx *gin.Context) {
	if s.store == nil {
		s.fail(ctx, ErrNoStore)
		return
	}
	id := ctx.Param("id")
	if m, ok := s.registry.Get(id); ok {
		if !m.mu.TryLock() {
			s.fail(ctx, errors.Wrapf(ErrModelBusy, "id %s", id))
			return
		}
		defer m.mu.Unlock()
	}
	snap, name, err := s.store.Load(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	nc := network.NewNetworkConfig(snap.InputWidth)
	nc.Logger = s.logger
	nn, err := network.RestoreNetwork(snap, nc)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	m := s.register(id, name, nn)
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx.JSON(http.StatusOK, m.summary())
}

func (s *Service) storeDeleteHandler(ctx *gin.Context) {
	if s.store == nil {
		s.fail(ctx, ErrNoStore)
		return
	}
	if err := s.store.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
