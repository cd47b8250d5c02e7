package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"supplier_feed_v1/internal/config"
	"supplier_feed_v1/internal/controller"
	"supplier_feed_v1/internal/middleware"
	"supplier_feed_v1/internal/model"
	"supplier_feed_v1/internal/repository"
	"supplier_feed_v1/internal/router"
	"supplier_feed_v1/internal/service"
	"supplier_feed_v1/internal/task"
	"supplier_feed_v1/pkg/cache"
	"supplier_feed_v1/pkg/database"
	"supplier_feed_v1/pkg/utils"
)

func main() {
	issueToken := flag.String("issue-token", "", "为指定操作员签发 token 后退出")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if *issueToken != "" {
		printOperatorToken(cfg, *issueToken)
		return
	}

	// 2. 初始化数据库
	db := database.InitDB(cfg.DBDriver, cfg.DatabaseDSN, model.AllModels()...)

	// 3. 初始化依赖
	deps := initDependencies(cfg, db)

	// 4. 启动定时任务
	if err := deps.Tasks.Start(); err != nil {
		log.Fatalf("定时任务启动失败: %v", err)
	}

	// 5. 初始化路由
	r := gin.Default()
	router.InitRoutes(r, deps.Controller, router.Options{
		InstallationID: cfg.InstallationID,
		Auth:           deps.Auth,
		Limiter:        middleware.GetLimiter(),
		SyncCooldown:   time.Duration(cfg.SyncCooldownSec) * time.Second,
		ImportCooldown: time.Duration(cfg.ImportCooldownSec) * time.Second,
	})

	// 6. 启动服务
	startServer(cfg, r, deps.Tasks)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB         *gorm.DB
	Repos      *Repositories
	Services   *Services
	Tasks      *task.TaskManager
	Auth       *middleware.OperatorAuth
	Controller *controller.FeedController
}

// Repositories 仓库集合
type Repositories struct {
	Catalog  repository.CatalogRepository
	Settings repository.SettingsRepository
	Activity repository.ActivityLogRepository
}

// Services 服务集合
type Services struct {
	Settings *service.SettingsService
	Activity *service.ActivityService
	Token    *service.TokenService
	Feed     *service.FeedService
	SKUs     *service.SKUCache
	Search   *service.SearchService
	Import   *service.ImportService
	Sync     *service.SyncService
	Archive  *service.ArchiveService
}

// ==================== 初始化函数 ====================

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Catalog:  repository.NewCatalogRepository(db),
		Settings: repository.NewSettingsRepository(db),
		Activity: repository.NewActivityLogRepository(db),
	}

	// -------- 基础设施 --------
	store := cache.NewMemoryStore()
	allowed := utils.AllowHosts(cfg.SupplierAllowedHosts)
	if len(cfg.SupplierAllowedHosts) == 0 {
		log.Println("警告: SUPPLIER_ALLOWED_HOSTS 为空，所有供应商请求都会被拒绝")
	}
	client := utils.NewSupplierClient(allowed)

	// -------- 业务服务 --------
	services := &Services{}
	services.Activity = service.NewActivityService(repos.Activity, cfg.ActivityLogMax)
	services.Settings = service.NewSettingsService(repos.Settings, store, cfg.InstallationID, cfg.EncryptionKey, services.Activity)
	services.Token = service.NewTokenService(services.Settings, client, store, allowed, cfg.InstallationID)
	services.Feed = service.NewFeedService(services.Settings, services.Token, client, store, allowed, cfg.InstallationID)
	services.SKUs = service.NewSKUCache(repos.Catalog, store, cfg.InstallationID)
	services.Search = service.NewSearchService(services.Settings, services.Feed, services.SKUs)
	services.Import = service.NewImportService(services.Settings, services.Feed, repos.Catalog, services.SKUs, services.Activity)
	services.Sync = service.NewSyncService(services.Settings, services.Feed, repos.Catalog, services.Activity, store, cfg.InstallationID)

	if archive := initArchiveService(cfg); archive != nil {
		services.Archive = archive
		services.Sync.SetArchiver(archive)
	}

	// -------- 定时任务 --------
	tasks := initTasks(cfg, services)

	// -------- 认证 --------
	var auth *middleware.OperatorAuth
	if cfg.AuthEnabled() {
		auth = newOperatorAuth(cfg)
	} else {
		log.Println("警告: ADMIN_JWT_SECRET 未配置，接口不校验操作员身份")
	}

	// -------- Controller 层 --------
	ctl := controller.NewFeedController(controller.FeedControllerDeps{
		Search:   services.Search,
		Import:   services.Import,
		Tasks:    tasks,
		Sync:     services.Sync,
		Settings: services.Settings,
		Activity: services.Activity,
	})

	return &Dependencies{
		DB:         db,
		Repos:      repos,
		Services:   services,
		Tasks:      tasks,
		Auth:       auth,
		Controller: ctl,
	}
}

// initArchiveService 未配置 bucket 时返回 nil
func initArchiveService(cfg *config.Config) *service.ArchiveService {
	if !cfg.ArchiveEnabled() {
		return nil
	}
	archive, err := service.NewArchiveService(&service.ArchiveConfig{
		Bucket:    cfg.AWSBucket,
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKeyID,
		SecretKey: cfg.AWSSecretAccessKey,
		Endpoint:  cfg.AWSEndpoint,
		BasePath:  cfg.StorageBasePath,
	})
	if err != nil {
		log.Printf("警告: feed 归档初始化失败: %v", err)
		return nil
	}
	return archive
}

// initTasks 每日同步
func initTasks(cfg *config.Config, services *Services) *task.TaskManager {
	hour, minute, _ := config.ParseClock(cfg.SyncTime)
	loc, _ := cfg.Location()

	return task.NewTaskManager(&task.TaskManagerDeps{
		SyncService: services.Sync,
	}, &task.TaskManagerConfig{
		SyncEnabled: true,
		SyncHour:    hour,
		SyncMinute:  minute,
		Location:    loc,
	})
}

func newOperatorAuth(cfg *config.Config) *middleware.OperatorAuth {
	return middleware.NewOperatorAuth(middleware.AuthConfig{
		SecretKey: cfg.AdminJWTSecret,
		TokenTTL:  time.Duration(cfg.AdminTokenTTLMin) * time.Minute,
	})
}

func printOperatorToken(cfg *config.Config, operator string) {
	if !cfg.AuthEnabled() {
		log.Fatal("ADMIN_JWT_SECRET 未配置")
	}
	token, err := newOperatorAuth(cfg).GenerateToken(operator)
	if err != nil {
		log.Fatalf("签发 token 失败: %v", err)
	}
	fmt.Println(token)
}

// ==================== 服务启动 ====================

// startServer 启动服务
func startServer(cfg *config.Config, r *gin.Engine, tasks *task.TaskManager) {
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		log.Printf("服务启动在 :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务强制关闭: %v", err)
	}

	// 等待正在执行的同步结束
	tasks.Stop()

	log.Println("服务已退出")
}
