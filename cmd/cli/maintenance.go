package main

import (
	"MediaMerger/config"
	"MediaMerger/pkg/maintenance"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	var output, verify string
	var workers int

	cmd := &cobra.Command{
		Use:   "manifest <library>",
		Short: "为目标目录生成摘要清单，或按清单校验目录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := maintenance.NewMaintenance(ctx.logDir(), workers)
			if err != nil {
				return err
			}
			defer m.Close()

			runCtx, stop := interruptContext(cmd.Context())
			defer stop()

			if verify != "" {
				mismatched, err := m.VerifyManifest(runCtx, args[0], verify)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]any{"mismatched": mismatched}); err != nil {
					return err
				}
				if len(mismatched) > 0 {
					return fmt.Errorf("%d 个文件与清单不一致", len(mismatched))
				}
				return nil
			}

			if output == "" {
				output = filepath.Join(config.C.Scanner.BackupPath, "manifests")
			}
			path, err := m.GenerateFileManifest(runCtx, args[0], output)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"manifest": path})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "清单输出目录")
	cmd.Flags().StringVar(&verify, "verify", "", "按指定清单文件校验目录")
	cmd.Flags().IntVar(&workers, "workers", 0, "并发数，0 表示 CPU 核数")
	return cmd
}

func newDumpDatabaseCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump-database",
		Short: "使用 mongodump 备份元数据数据库",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = filepath.Join(config.C.Scanner.BackupPath, "database")
			}
			m, err := maintenance.NewMaintenance(ctx.logDir(), 1)
			if err != nil {
				return err
			}
			defer m.Close()

			archive, err := m.BackupDatabase(cmd.Context(), config.C.Database.URI, config.C.Database.Name, output)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"archive": archive})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "备份输出目录")
	return cmd
}
