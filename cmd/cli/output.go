package main

import (
	"MediaMerger/pkg/dedupe"
	"MediaMerger/pkg/merger"
	"MediaMerger/pkg/scanner"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
)

func isTerminal(v any) bool {
	file, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// report 在终端上输出表格，其余情况（管道、重定向、测试）输出 JSON。
func report(w io.Writer, v any, rows [][]string) error {
	if !isTerminal(w) || len(rows) == 0 {
		return printJSON(w, v)
	}
	_, err := fmt.Fprintln(w, renderTable([]string{"项目", "数量"}, rows))
	return err
}

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func itoa(n int) string { return strconv.Itoa(n) }

func mergeRows(s *merger.Summary) [][]string {
	rows := [][]string{
		{"已处理", itoa(s.Processed)},
		{"复制", itoa(s.Copied)},
		{"替换", itoa(s.Replaced)},
		{"跳过", itoa(s.Skipped)},
		{"删除", itoa(s.Deleted)},
		{"断点中已完成", itoa(s.AlreadyDone)},
		{"已过滤", itoa(s.Filtered)},
		{"失败", itoa(s.Errored)},
		{"耗时", s.Duration.Round(time.Millisecond).String()},
	}
	if len(s.FailedRoots) > 0 {
		rows = append(rows, []string{"不可用的来源目录", strings.Join(s.FailedRoots, "\n")})
	}
	if s.Cancelled {
		rows = append(rows, []string{"状态", "已中断"})
	}
	return rows
}

func scanRows(r *scanner.Result) [][]string {
	rows := [][]string{
		{"数据集", r.Scope},
		{"发现", itoa(r.Found)},
		{"新增", itoa(r.Inserted)},
		{"已存在", itoa(r.Existing)},
		{"非媒体文件", itoa(r.Skipped)},
		{"失败", itoa(r.Failed)},
	}
	if len(r.FailedRoots) > 0 {
		rows = append(rows, []string{"不可用的扫描目录", strings.Join(r.FailedRoots, "\n")})
	}
	return rows
}

func dedupeRows(results []*dedupe.Result) [][]string {
	var rows [][]string
	for _, r := range results {
		rows = append(rows,
			[]string{"结果数据集", r.TargetScope},
			[]string{"  目录", itoa(r.Directories)},
			[]string{"  记录", itoa(r.Records)},
			[]string{"  聚类", itoa(r.Clusters)},
			[]string{"  代表", itoa(r.Representatives)},
			[]string{"  重复", itoa(r.Duplicates)},
		)
	}
	return rows
}

var errNotConfirmed = errors.New("操作已取消")

// confirm 在交互终端上要求用户确认，非交互环境下必须显式传入 --yes。
func confirm(label string, yes bool) error {
	if yes {
		return nil
	}
	if !isTerminal(os.Stdin) {
		return fmt.Errorf("%s：非交互环境请使用 --yes 确认", label)
	}
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		return errNotConfirmed
	}
	return nil
}
