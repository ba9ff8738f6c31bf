package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, logDirFlag string
	ctx := newCommandContext(&configFlag, &logDirFlag)
	return buildRootCommand(ctx, &configFlag, &logDirFlag)
}

func buildRootCommand(ctx *commandContext, configFlag, logDirFlag *string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mediamerger",
		Short:         "媒体文件扫描、去重与合并工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.ensureConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(configFlag, "config", "c", "", "config.yaml 所在目录（默认为当前目录）")
	rootCmd.PersistentFlags().StringVar(logDirFlag, "log-dir", "", "覆盖配置中的日志目录")

	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newDedupeCommand(ctx))
	rootCmd.AddCommand(newMergeCommand(ctx))
	rootCmd.AddCommand(newCopyCommand(ctx))
	rootCmd.AddCommand(newRebuildIndexCommand(ctx))
	rootCmd.AddCommand(newManifestCommand(ctx))
	rootCmd.AddCommand(newDumpDatabaseCommand(ctx))

	return rootCmd
}
