package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ReelForge/config"
	"ReelForge/core/auth"
	"ReelForge/core/mediacache"
	"ReelForge/core/persist"
	"ReelForge/core/timeline"
	"ReelForge/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Server owns the HTTP surface of one editing session.
type Server struct {
	cfg    *config.Config
	store  *timeline.Store
	media  *mediacache.Cache
	clock  *timeline.Clock
	issuer *auth.Issuer // nil 表示不启用认证
	hub    *Hub
	router *mux.Router
	proxy  *http.Client
}

// Options 组装 Server 需要的组件
type Options struct {
	Config *config.Config
	Store  *timeline.Store
	Media  *mediacache.Cache
	Issuer *auth.Issuer
}

// New 创建 Server 并注册路由
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.FromEnv()
	}
	s := &Server{
		cfg:    cfg,
		store:  opts.Store,
		media:  opts.Media,
		clock:  timeline.NewClock(opts.Store, 0),
		issuer: opts.Issuer,
		router: mux.NewRouter(),
		proxy:  &http.Client{Timeout: cfg.MediaFetchTimeout},
	}
	s.hub = NewHub(s.store, s.media)
	s.routes()
	return s
}

// Handler 返回根路由。CORS 包在路由外层，预检请求不需要匹配任何路由
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Clock 播放时钟
func (s *Server) Clock() *timeline.Clock {
	return s.clock
}

// Close 断开所有 websocket 连接
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/api/auth/login", s.LoginHandler).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.AuthMiddleware)

	api.HandleFunc("/editor/state", s.StateHandler).Methods(http.MethodGet)
	api.HandleFunc("/editor/commands", s.CommandsHandler).Methods(http.MethodGet)
	api.HandleFunc("/editor/dispatch", s.DispatchHandler).Methods(http.MethodPost)
	api.HandleFunc("/editor/undo", s.UndoHandler).Methods(http.MethodPost)
	api.HandleFunc("/editor/redo", s.RedoHandler).Methods(http.MethodPost)
	api.HandleFunc("/editor/transient/{action}", s.TransientHandler).Methods(http.MethodPost)
	api.HandleFunc("/editor/duration", s.DurationHandler).Methods(http.MethodGet)
	api.HandleFunc("/editor/active", s.ActiveHandler).Methods(http.MethodGet)
	api.HandleFunc("/editor/playback", s.PlaybackHandler).Methods(http.MethodPost)

	api.HandleFunc("/media", s.MediaListHandler).Methods(http.MethodGet)
	api.HandleFunc("/media/status", s.MediaStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/media/resolve", s.MediaResolveHandler).Methods(http.MethodGet)
	api.HandleFunc("/media/preload", s.MediaPreloadHandler).Methods(http.MethodPost)
	api.HandleFunc("/media/all", s.MediaClearHandler).Methods(http.MethodDelete)
	api.HandleFunc("/media", s.MediaRevokeHandler).Methods(http.MethodDelete)

	api.HandleFunc("/proxy", s.ProxyHandler).Methods(http.MethodGet)

	api.HandleFunc("/export/plan", s.ExportPlanHandler).Methods(http.MethodGet)
	api.HandleFunc("/export/edl", s.ExportEDLHandler).Methods(http.MethodGet)

	// 浏览器的 <video> 和 websocket 无法带 Authorization 头，这两条路由自行校验
	r.HandleFunc("/ws/editor", s.EditorSocketHandler).Methods(http.MethodGet)
	r.PathPrefix(s.cfg.MediaBlobPrefix).HandlerFunc(s.BlobHandler).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// corsMiddleware 允许编辑器前端跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start wires every backend from the environment, serves until SIGINT or
// SIGTERM and shuts down gracefully.
func Start() {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		Console:    cfg.LogConsole,
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	defer logger.Sync()

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger.Info("启动 ReelForge",
		logger.String("instance", instanceID),
		logger.String("project", cfg.ProjectID),
		logger.String("persist", cfg.PersistBackend),
		logger.String("mediaStore", cfg.MediaStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := OpenBackends(ctx, cfg)
	if err != nil {
		logger.Fatal("初始化存储后端失败", logger.ErrorField(err))
	}
	defer b.Close()

	store := timeline.New(timeline.WithSnapThresholdPx(cfg.SnapThresholdPx))
	if _, err := persist.Hydrate(ctx, store, b.Adapter); err != nil {
		// 读不到时继续使用默认项目，下一次编辑会覆盖存储
		logger.Error("加载项目失败", logger.ErrorField(err))
	}
	mirror := persist.NewMirror(store, b.Adapter, instanceID)
	if b.Watcher != nil {
		go func() {
			if err := persist.Sync(ctx, store, b.Watcher, instanceID); err != nil {
				logger.Error("跨实例同步已停止", logger.ErrorField(err))
			}
		}()
	}

	media := mediacache.New(mediacache.NewHTTPFetcher(cfg.MediaProxyURL), b.MediaStore, mediacache.Options{
		BlobPrefix:   cfg.MediaBlobPrefix,
		MaxBytes:     cfg.MediaMaxBytes,
		FetchTimeout: cfg.MediaFetchTimeout,
	})

	var issuer *auth.Issuer
	if cfg.AuthEnabled() {
		issuer = auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	} else {
		logger.Warn("JWT_SECRET 未设置，API 不做认证")
	}

	srv := New(Options{Config: cfg, Store: store, Media: media, Issuer: issuer})
	unwatch := WatchSources(store, media)
	go srv.Clock().Run(ctx)

	// 设置服务器超时
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // blob 下载和 websocket 是长连接
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("HTTP 服务已启动", logger.String("addr", cfg.ServerAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	srv.Close()
	unwatch()
	cancel()
	if err := mirror.Close(shutdownCtx); err != nil {
		logger.Error("退出前保存项目失败", logger.ErrorField(err))
	}
	media.Close()

	logger.Info("Server stopped")
}
