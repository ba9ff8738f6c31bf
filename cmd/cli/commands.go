package main

import (
	"MediaMerger/config"
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/dedupe"
	"MediaMerger/pkg/scanner"
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var roots []string
	var scope string
	var reset, yes bool
	var workers int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "扫描来源目录并把媒体记录写入数据集",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.C.Scanner
			opts := scanner.Options{
				Roots:               roots,
				Scope:               scope,
				WorkerCount:         cfg.WorkerCount,
				ExcludeFilePatterns: cfg.ExcludeFilePatterns,
				ExcludeDirPatterns:  cfg.ExcludeDirPatterns,
				Reset:               reset,
			}
			if len(opts.Roots) == 0 {
				opts.Roots = cfg.Roots
			}
			if opts.Scope == "" {
				opts.Scope = cfg.Scope
			}
			if workers > 0 {
				opts.WorkerCount = workers
			}
			if len(opts.Roots) == 0 {
				return fmt.Errorf("没有指定扫描目录，请使用 --root 或在配置中设置 scanner.roots")
			}
			if reset {
				if err := confirm(fmt.Sprintf("清空数据集 %s 后重新扫描", opts.Scope), yes); err != nil {
					return err
				}
			}

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()
			return ctx.withStore(runCtx, func(store database.Store) error {
				s, err := scanner.NewScanner(ctx.logDir(), store)
				if err != nil {
					return err
				}
				defer s.Close()
				res, err := s.Scan(runCtx, opts)
				if err != nil {
					return err
				}
				if err := report(cmd.OutOrStdout(), res, scanRows(res)); err != nil {
					return err
				}
				return cancelledErr(res.Cancelled)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roots, "root", nil, "扫描目录（可重复）")
	cmd.Flags().StringVar(&scope, "scope", "", "写入的数据集名称")
	cmd.Flags().BoolVar(&reset, "reset", false, "扫描前清空数据集")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "不再询问确认")
	cmd.Flags().IntVar(&workers, "workers", 0, "并发数，0 表示使用配置")
	return cmd
}

func newDedupeCommand(ctx *commandContext) *cobra.Command {
	var method, scope, channel string
	var threshold, dhashThreshold, phashThreshold int

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "按感知哈希对数据集逐目录聚类并生成去重后的数据集",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.C.Deduper
			if scope == "" {
				scope = cfg.SourceScope
			}
			if channel == "" {
				channel = cfg.Channel
			}
			ch, ok := models.ParseChannel(channel)
			if !ok {
				return fmt.Errorf("不支持的哈希通道: %q", channel)
			}
			if dhashThreshold < 0 {
				dhashThreshold = cfg.DHashThreshold
			}
			if phashThreshold < 0 {
				phashThreshold = cfg.PHashThreshold
			}
			if threshold < 0 {
				threshold = phashThreshold
				if ch == models.ChannelDHash {
					threshold = dhashThreshold
				}
			}
			single := method == "single" || method == "both"
			twoPhase := method == "twophase" || method == "both"
			if !single && !twoPhase {
				return fmt.Errorf("不支持的去重方法: %q", method)
			}

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()
			return ctx.withStore(runCtx, func(store database.Store) error {
				d, err := dedupe.NewDeduper(ctx.logDir(), store)
				if err != nil {
					return err
				}
				defer d.Close()

				var results []*dedupe.Result
				if single {
					res, err := d.ClusterSingle(runCtx, scope, ch, threshold)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				if twoPhase {
					res, err := d.ClusterTwoPhase(runCtx, scope, dhashThreshold, phashThreshold)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
				return report(cmd.OutOrStdout(), results, dedupeRows(results))
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "single", "去重方法: single|twophase|both")
	cmd.Flags().StringVar(&scope, "scope", "", "来源数据集，默认使用配置")
	cmd.Flags().StringVar(&channel, "channel", "", "single 方法使用的哈希通道")
	cmd.Flags().IntVar(&threshold, "threshold", -1, "single 方法的汉明距离阈值，-1 表示按通道取配置值")
	cmd.Flags().IntVar(&dhashThreshold, "dhash-threshold", -1, "twophase 第一阶段阈值")
	cmd.Flags().IntVar(&phashThreshold, "phash-threshold", -1, "twophase 第二阶段阈值")
	return cmd
}
