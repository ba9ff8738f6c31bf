package main

import (
	"MediaMerger/config"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/merger"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// interruptContext 在收到 SIGINT 或 SIGTERM 时取消，正在处理的文件会先完成。
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func cancelledErr(cancelled bool) error {
	if cancelled {
		return context.Canceled
	}
	return nil
}

func newResolver(kind string, index *hashindex.Index) (merger.ConflictResolver, error) {
	switch kind {
	case "", "index":
		return merger.NewIndexResolver(index, slog.Default()), nil
	case "scan":
		return merger.NewDirectoryScanResolver(slog.Default()), nil
	default:
		return nil, fmt.Errorf("不支持的冲突查找方式: %q", kind)
	}
}

type destinationFlags struct {
	imageDest string
	videoDest string
	indexPath string
	resolver  string
	workers   int
}

func (f *destinationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.imageDest, "image-dest", "", "图片目标目录，默认使用配置")
	cmd.Flags().StringVar(&f.videoDest, "video-dest", "", "视频目标目录，默认使用配置")
	cmd.Flags().StringVar(&f.indexPath, "index", "", "哈希索引数据库路径，默认使用配置")
	cmd.Flags().StringVar(&f.resolver, "resolver", "", "冲突查找方式: index|scan")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "并发数，0 表示使用配置")
}

func (f *destinationFlags) resolve() {
	cfg := config.C.Merger
	if f.imageDest == "" {
		f.imageDest = cfg.ImageDestination
	}
	if f.videoDest == "" {
		f.videoDest = cfg.VideoDestination
	}
	if f.resolver == "" {
		f.resolver = cfg.Resolver
	}
	if f.workers <= 0 {
		f.workers = cfg.WorkerCount
	}
}

// withEngine 打开哈希索引并创建合并引擎。
func (c *commandContext) withEngine(f *destinationFlags, fn func(*merger.Engine) error) error {
	return c.withIndex(f.indexPath, func(index *hashindex.Index) error {
		resolver, err := newResolver(f.resolver, index)
		if err != nil {
			return err
		}
		engine, err := merger.NewEngine(c.logDir(), index, resolver)
		if err != nil {
			return err
		}
		defer engine.Close()
		return fn(engine)
	})
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var dest destinationFlags
	var sources []string
	var checkpointPath string
	var noResume, rebuildIndex bool

	cmd := &cobra.Command{
		Use:   "merge [source...]",
		Short: "把来源目录合并到图片与视频目标目录",
		RunE: func(cmd *cobra.Command, args []string) error {
			dest.resolve()
			cfg := config.C.Merger
			opts := merger.Options{
				Sources:         append(append([]string{}, sources...), args...),
				ImageDest:       dest.imageDest,
				VideoDest:       dest.videoDest,
				Workers:         dest.workers,
				Resume:          cfg.Resume && !noResume,
				RebuildIndex:    cfg.RebuildIndex || rebuildIndex,
				CheckpointPath:  cfg.CheckpointPath,
				CheckpointEvery: cfg.CheckpointEvery,
			}
			if len(opts.Sources) == 0 {
				opts.Sources = cfg.Sources
			}
			if checkpointPath != "" {
				opts.CheckpointPath = checkpointPath
			}
			if len(opts.Sources) == 0 {
				return fmt.Errorf("没有指定来源目录")
			}

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()
			return ctx.withEngine(&dest, func(engine *merger.Engine) error {
				sum, err := engine.MergeSources(runCtx, opts)
				if err != nil {
					return err
				}
				if err := report(cmd.OutOrStdout(), sum, mergeRows(sum)); err != nil {
					return err
				}
				if sum.Cancelled {
					fmt.Fprintln(cmd.ErrOrStderr(), "合并已中断，再次运行将从断点继续")
				}
				return cancelledErr(sum.Cancelled)
			})
		},
	}
	dest.register(cmd)
	cmd.Flags().StringSliceVar(&sources, "source", nil, "来源目录（可重复，也可作为参数传入）")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "断点文件路径，默认使用配置")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "忽略已有断点，重新开始")
	cmd.Flags().BoolVar(&rebuildIndex, "rebuild-index", false, "合并前重建目标目录的哈希索引")
	return cmd
}

func newCopyCommand(ctx *commandContext) *cobra.Command {
	var dest destinationFlags
	var depth int
	var humanOnly bool

	cmd := &cobra.Command{
		Use:   "copy <scope>",
		Short: "把数据集中的代表文件复制到目标目录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest.resolve()
			cfg := config.C.Merger
			opts := merger.CopyOptions{
				ImageDest:      dest.imageDest,
				VideoDest:      dest.videoDest,
				DirectoryDepth: cfg.DirectoryDepth,
				HumanOnly:      cfg.HumanOnly || humanOnly,
				Workers:        dest.workers,
			}
			if cmd.Flags().Changed("depth") {
				opts.DirectoryDepth = depth
			}

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()
			return ctx.withStore(runCtx, func(store database.Store) error {
				records, err := store.Records().ListByScope(runCtx, args[0])
				if err != nil {
					return fmt.Errorf("读取数据集 %s 失败: %w", args[0], err)
				}
				return ctx.withEngine(&dest, func(engine *merger.Engine) error {
					sum, err := engine.CopyRecords(runCtx, records, opts)
					if err != nil {
						return err
					}
					if err := report(cmd.OutOrStdout(), sum, mergeRows(sum)); err != nil {
						return err
					}
					return cancelledErr(sum.Cancelled)
				})
			})
		},
	}
	dest.register(cmd)
	cmd.Flags().IntVar(&depth, "depth", 0, "保留的来源目录层数")
	cmd.Flags().BoolVar(&humanOnly, "human-only", false, "只复制检测到人物的图片")
	return cmd
}

func newRebuildIndexCommand(ctx *commandContext) *cobra.Command {
	var indexPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "rebuild-index [root...]",
		Short: "重新扫描目标目录并重建哈希索引",
		RunE: func(cmd *cobra.Command, args []string) error {
			roots := args
			if len(roots) == 0 {
				for _, r := range []string{config.C.Merger.ImageDestination, config.C.Merger.VideoDestination} {
					if r != "" {
						roots = append(roots, r)
					}
				}
			}
			if len(roots) == 0 {
				return fmt.Errorf("没有指定需要重建索引的目录")
			}
			if workers <= 0 {
				workers = config.C.Merger.WorkerCount
			}

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()
			return ctx.withIndex(indexPath, func(index *hashindex.Index) error {
				counts := make(map[string]int, len(roots))
				for _, root := range roots {
					n, err := index.Rebuild(runCtx, root, workers)
					if err != nil {
						return fmt.Errorf("重建 %s 的索引失败: %w", root, err)
					}
					counts[root] = n
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", "", "哈希索引数据库路径，默认使用配置")
	cmd.Flags().IntVar(&workers, "workers", 0, "并发数，0 表示使用配置")
	return cmd
}
