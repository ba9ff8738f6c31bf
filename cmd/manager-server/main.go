// 文件: cmd/manager-server/main.go
package main

import (
	"MediaMerger/config"
	"MediaMerger/internal/api"
	"MediaMerger/internal/task"
	"MediaMerger/pkg/database/mongo"
	"MediaMerger/pkg/dedupe"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/logger"
	"MediaMerger/pkg/merger"
	"MediaMerger/pkg/scanner"
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configDir := flag.String("config", ".", "config.yaml 所在目录")
	flag.Parse()

	// --- 1. 初始化 ---
	if err := config.LoadConfig(*configDir); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}
	slog.Info("应用启动")
	defer slog.Info("应用关闭")

	if err := run(*configDir); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. 连接数据库与哈希索引 ---
	db, err := mongo.NewStore(ctx, config.C)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	slog.Info("数据库连接成功")

	logDir := config.C.Logger.Path
	indexLog, err := logger.NewModuleLogger(logDir, "hashindex.log")
	if err != nil {
		return err
	}
	defer indexLog.Close()
	index, err := hashindex.Open(config.C.Merger.IndexPath, indexLog.Logger)
	if err != nil {
		return err
	}
	defer index.Close()

	// --- 3. 创建核心服务实例 ---
	var resolver merger.ConflictResolver
	if config.C.Merger.Resolver == "scan" {
		resolver = merger.NewDirectoryScanResolver(slog.Default())
	}
	engine, err := merger.NewEngine(logDir, index, resolver)
	if err != nil {
		return err
	}
	defer engine.Close()

	deduper, err := dedupe.NewDeduper(logDir, db)
	if err != nil {
		return err
	}
	defer deduper.Close()

	scan, err := scanner.NewScanner(logDir, db)
	if err != nil {
		return err
	}
	defer scan.Close()

	taskManager := task.NewManager()
	slog.Info("任务管理器创建成功")

	// --- 4. 设置并启动HTTP服务器 ---
	router := api.RegisterRoutes(taskManager, db, api.Services{
		Scanner:    scan,
		Deduper:    deduper,
		Merger:     engine,
		ConfigPath: filepath.Join(configDir, "config.yaml"),
	})

	server := &http.Server{
		Addr:         config.C.Server.Port,
		Handler:      router,
		ReadTimeout:  config.C.Server.Timeout,
		WriteTimeout: config.C.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP服务器正在启动...", "地址", config.C.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("收到退出信号，正在关闭服务")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP服务器关闭失败", "error", err)
	}
	// 正在运行的任务会完成手头的文件并保存断点
	return taskManager.Shutdown(shutdownCtx)
}
