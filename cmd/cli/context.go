package main

import (
	"MediaMerger/config"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/database/mongo"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const hashIndexLogFileName = "hashindex.log"

type storeOpener func(ctx context.Context, cfg *config.Config) (database.Store, error)

type commandContext struct {
	configFlag *string
	logDirFlag *string

	// openStore 默认连接 MongoDB，测试中替换为内存实现。
	openStore storeOpener

	configOnce sync.Once
	configErr  error
}

func newCommandContext(configFlag, logDirFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		logDirFlag: logDirFlag,
		openStore:  mongo.NewStore,
	}
}

// ensureConfig 读取配置目录中的 config.yaml，找不到时使用默认配置，然后初始化全局日志。
func (c *commandContext) ensureConfig() error {
	c.configOnce.Do(func() {
		dir := "."
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			dir = strings.TrimSpace(*c.configFlag)
		}
		if err := config.LoadConfig(dir); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				c.configErr = fmt.Errorf("无法加载配置: %w", err)
				return
			}
			config.C = config.Default()
		}
		if c.logDirFlag != nil && strings.TrimSpace(*c.logDirFlag) != "" {
			config.C.Logger.Path = strings.TrimSpace(*c.logDirFlag)
		}
		if err := logger.InitLogger(); err != nil {
			c.configErr = fmt.Errorf("无法初始化日志: %w", err)
		}
	})
	return c.configErr
}

func (c *commandContext) logDir() string {
	return config.C.Logger.Path
}

// withStore 连接元数据存储，fn 返回后关闭连接。
func (c *commandContext) withStore(ctx context.Context, fn func(database.Store) error) error {
	store, err := c.openStore(ctx, config.C)
	if err != nil {
		return fmt.Errorf("无法连接到数据库: %w", err)
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("关闭数据库连接失败", "error", err)
		}
	}()
	return fn(store)
}

// withIndex 打开哈希索引，path 为空时使用配置中的路径。
func (c *commandContext) withIndex(path string, fn func(*hashindex.Index) error) error {
	if path == "" {
		path = config.C.Merger.IndexPath
	}
	ml, err := logger.NewModuleLogger(c.logDir(), hashIndexLogFileName)
	if err != nil {
		return fmt.Errorf("无法初始化哈希索引日志: %w", err)
	}
	defer ml.Close()
	index, err := hashindex.Open(path, ml.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := index.Close(); err != nil {
			ml.Warn("关闭哈希索引失败", "error", err)
		}
	}()
	return fn(index)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
