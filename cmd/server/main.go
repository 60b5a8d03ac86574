package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conbuild/backoffice/internal/config"
	"github.com/conbuild/backoffice/internal/middleware"
	"github.com/conbuild/backoffice/internal/shared/cache"
	"github.com/conbuild/backoffice/internal/shared/mailer"
	"github.com/conbuild/backoffice/internal/shared/storage"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/handler"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting backoffice service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("db_driver", cfg.Database.Driver),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database, cfg.Log.Level)
	if err != nil {
		zapLogger.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := db.AutoMigrate(entity.All()...); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	zapLogger.Info("Database connected")

	// 列表缓存：配置了 Redis 用 Redis，否则进程内缓存
	var (
		listCache cache.Cache = cache.NewMemoryCache(cfg.Redis.ListTTL)
		rdb       *redis.Client
	)
	if cfg.Redis.Host != "" {
		rdb = initRedis(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, falling back to in-process cache", zap.Error(err))
			rdb.Close()
			rdb = nil
		} else {
			listCache = cache.NewRedisCache(rdb, cfg.Redis.ListTTL)
			zapLogger.Info("Redis connected")
		}
		cancel()
	}

	deps := service.Deps{
		Cache:  listCache,
		Hub:    sse.NewHub(zapLogger),
		Logger: zapLogger,
	}

	// 对象存储（签收附件）
	store, err := storage.NewMinIOStore(context.Background(), storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		zapLogger.Warn("MinIO unavailable, attachments disabled", zap.Error(err))
	} else if store != nil {
		deps.Store = store
		zapLogger.Info("MinIO connected", zap.String("bucket", cfg.MinIO.Bucket))
	}

	// 审批流转邮件通知
	if m := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}); m != nil {
		deps.Notifier = m
		zapLogger.Info("SMTP notifications enabled", zap.String("host", cfg.SMTP.Host))
	}

	// 初始化仓库、服务、处理器
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, deps)
	handlers := handler.NewHandlers(services, deps.Hub)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/sse"})))

	// 注册路由
	registerRoutes(router, handlers, repos, rdb, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(logLevel)),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "postgres", "":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite 只允许单写连接
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// gormLogLevel debug 下打印 SQL，其余只记慢查询和错误
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	default:
		return logger.Warn
	}
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, repos *repository.Repositories, rdb *redis.Client, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok"}
		status := http.StatusOK
		if err := repos.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	// API v1，全部需要认证（SSE 支持 query param token）
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret, middleware.WithIssuer(cfg.JWT.Issuer)))
	handler.RegisterRoutes(v1, h)
}
