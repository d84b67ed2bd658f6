package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/internal/handler"
	"lexicon-go/internal/mcpserver"
	"lexicon-go/internal/repository"
	"lexicon-go/internal/service"
	"lexicon-go/pkg/kafka"
	"lexicon-go/pkg/log"
	"lexicon-go/pkg/storage"
	"lexicon-go/pkg/tasks"
	"lexicon-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化快照数据源
	loader, closeLoader, err := newRecordLoader(ctx, cfg)
	if err != nil {
		log.Fatal("初始化数据源失败", err)
	}
	defer closeLoader()

	// 4. 初始化查询服务并加载首个快照。加载失败时继续启动，接口返回 503 直到 reload 成功
	searchService := service.NewSearchService(loader, cfg.Search.MaxTopK)
	if _, err := searchService.Reload(ctx); err != nil {
		log.Warnf("首次加载快照失败, 等待 reload: %v", err)
	}

	// 5. 设置 Gin 路由
	gin.SetMode(cfg.Server.Mode)
	var jwtManager *token.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	} else {
		log.Warnf("未配置 jwt.secret, 管理接口 /admin/reload 不可用")
	}
	r := handler.NewRouter(searchService, cfg.Search.DefaultTopK, jwtManager)

	// MCP 端点，供智能体客户端以工具形式调用检索
	mcpSrv := mcpserver.New(searchService, cfg.Search.DefaultTopK, "1.0.0")
	r.Any("/mcp", gin.WrapH(server.NewStreamableHTTPServer(mcpSrv.Server())))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)

	// 6. 启动服务器
	g.Go(func() error {
		log.Infof("服务器启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// 7. 启动 Kafka 消费者，每个已提交批次触发一次快照重载
	if cfg.ReloadsOnBatchEvents() {
		g.Go(func() error {
			err := kafka.StartConsumer(gctx, cfg.Kafka, kafka.BatchEventHandlerFunc(func(ctx context.Context, evt tasks.LabelBatchEvent) error {
				log.Infof("收到批次事件 run=%s seq=%d, 重新加载快照", evt.RunID, evt.BatchSeq)
				_, err := searchService.Reload(ctx)
				return err
			}))
			// 消费者退出不影响查询，仍可通过 /admin/reload 手动重载
			if err != nil {
				log.Error("Kafka 消费者已停止", err)
			}
			return nil
		})
	} else if cfg.Kafka.Brokers != "" {
		log.Info("快照来自 MinIO, 不消费批次事件, 需通过 /admin/reload 重载")
	}

	// 8. 等待中断信号以优雅地关闭服务器（设置 5 秒的超时时间）
	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在关闭服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("服务器强制关闭: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("服务器异常退出", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("服务器已退出")
}

// newRecordLoader 按 search.source 选择快照数据源。
func newRecordLoader(ctx context.Context, cfg *config.Config) (service.RecordLoader, func(), error) {
	if cfg.Search.Source == "minio" {
		client, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("从 MinIO %s/%s 加载快照", cfg.MinIO.BucketName, cfg.Search.ObjectName)
		return storage.NewObjectCSVSource(client, cfg.MinIO.BucketName, cfg.Search.ObjectName), func() {}, nil
	}

	var store repository.RecordStore
	if cfg.Storage.Driver == "csv" {
		store = repository.NewCSVStore(cfg.RecordsPath())
		log.Infof("从 %s 加载快照", cfg.RecordsPath())
	} else {
		var err error
		if store, err = repository.OpenRecordStore(cfg); err != nil {
			return nil, nil, err
		}
		log.Infof("从 %s 存储加载快照", store.Name())
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error("关闭存储失败", err)
		}
	}, nil
}
