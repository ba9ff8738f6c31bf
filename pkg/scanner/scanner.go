// Package scanner 遍历来源目录，为每个媒体文件计算摘要与感知哈希，并写入一个数据集。
package scanner

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/logger"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const scannerLogFileName = "scanner.log"

// Options 描述一次扫描。
type Options struct {
	Roots               []string
	Scope               string
	WorkerCount         int
	ExcludeFilePatterns []string
	ExcludeDirPatterns  []string
	// Reset 为 true 时先清空数据集。
	Reset bool
}

// Result 汇总一次扫描。
type Result struct {
	Scope       string      `json:"scope"`
	Found       int         `json:"found"`
	Inserted    int         `json:"inserted"`
	Existing    int         `json:"existing"`
	Skipped     int         `json:"skipped"`
	Failed      int         `json:"failed"`
	FailedRoots []string    `json:"failedRoots,omitempty"`
	Stats       []RootStats `json:"stats,omitempty"`
	Cancelled   bool        `json:"cancelled"`
}

// Scanner 把媒体文件的元数据写入数据集。
type Scanner struct {
	store  database.Store
	logger *logger.ModuleLogger
}

// NewScanner 创建扫描器，模块日志写入 logDir/scanner.log。
func NewScanner(logDir string, store database.Store) (*Scanner, error) {
	ml, err := logger.NewModuleLogger(logDir, scannerLogFileName)
	if err != nil {
		return nil, fmt.Errorf("无法初始化扫描器日志: %w", err)
	}
	return &Scanner{store: store, logger: ml}, nil
}

func newScannerWithLogger(store database.Store, ml *logger.ModuleLogger) *Scanner {
	return &Scanner{store: store, logger: ml}
}

func (s *Scanner) Close() {
	s.logger.Close()
}

type scanStatus int

const (
	statusNew scanStatus = iota
	statusExisting
	statusFailed
)

type scanResult struct {
	status scanStatus
	record *models.MediaRecord
}

// Scan 依次扫描每个根目录。根目录不可用只记录在 Result.FailedRoots 中。
// 同一根目录内文件按文件名优先级排序，摘要相同的文件只有优先级最高的一个入库。
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	if opts.Scope == "" {
		return nil, errors.New("必须指定数据集名称")
	}
	filter, err := NewFilter(opts.ExcludeFilePatterns, opts.ExcludeDirPatterns)
	if err != nil {
		return nil, err
	}
	if opts.Reset {
		if err := database.ResetScope(ctx, s.store, opts.Scope); err != nil {
			return nil, fmt.Errorf("重置数据集 %s 失败: %w", opts.Scope, err)
		}
		s.logger.Info("数据集已重置", "scope", opts.Scope)
	} else if err := s.store.EnsureIndexes(ctx, opts.Scope); err != nil {
		return nil, fmt.Errorf("创建数据集索引失败: %w", err)
	}

	res := &Result{Scope: opts.Scope}
	s.logger.Info("================== 扫描任务开始 ==================", "roots", opts.Roots, "scope", opts.Scope)
	res.Stats = s.preScan(opts.Roots, filter)

	for _, root := range opts.Roots {
		if ctx.Err() != nil {
			break
		}
		if err := s.scanRoot(ctx, root, opts, filter, res); err != nil {
			s.logger.Error("扫描根目录失败", "root", root, "error", err)
			res.FailedRoots = append(res.FailedRoots, root)
		}
	}
	res.Cancelled = ctx.Err() != nil

	s.logger.Info("================== 扫描任务结束 ==================",
		"scope", opts.Scope, "found", res.Found, "inserted", res.Inserted, "existing", res.Existing,
		"skipped", res.Skipped, "failed", res.Failed, "cancelled", res.Cancelled)
	return res, nil
}

// preScan 在正式扫描前记录每个根目录的媒体文件统计。
func (s *Scanner) preScan(roots []string, filter *Filter) []RootStats {
	var all []RootStats
	for i, root := range roots {
		st, err := Stat(root, filter)
		if err != nil {
			s.logger.Warn("预扫描统计失败", "root", root, "error", err)
			continue
		}
		s.logger.Info(fmt.Sprintf("%d. 来源目录", i+1), "root", root,
			"videos", st.Videos, "images", st.Images, "total", st.Images+st.Videos, "subdirs", len(st.Subdirs))
		for j, d := range st.Subdirs {
			s.logger.Debug(fmt.Sprintf("   %02d.", j+1), "dir", d.Dir, "videos", d.Videos, "images", d.Images)
		}
		all = append(all, st)
	}
	return all
}

func (s *Scanner) scanRoot(ctx context.Context, root string, opts Options, filter *Filter, res *Result) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("根目录不可用: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("根路径不是目录: %s", abs)
	}

	files, skipped, err := collect(abs, filter)
	if err != nil {
		return fmt.Errorf("遍历目录失败: %w", err)
	}
	res.Found += len(files)
	res.Skipped += skipped
	s.logger.Info("文件已按优先级排序", "root", abs, "files", len(files), "skipped", skipped)

	workers := opts.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]*scanResult, len(files))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	workCtx := context.WithoutCancel(ctx)
	for i := range files {
		if ctx.Err() != nil {
			s.logger.Warn("扫描已取消，停止提交新文件", "root", abs)
			break
		}
		g.Go(func() error {
			results[i] = s.inspect(workCtx, opts.Scope, files[i])
			return nil
		})
	}
	_ = g.Wait()

	// 按优先级顺序写入，摘要相同时高优先级的文件先占用摘要
	for i, r := range results {
		if r == nil {
			continue
		}
		switch r.status {
		case statusExisting:
			res.Existing++
		case statusFailed:
			res.Failed++
		case statusNew:
			s.insert(workCtx, opts.Scope, r.record, res)
		}
		if (i+1)%100 == 0 {
			s.logger.Info("进度", "root", abs, "done", i+1, "total", len(files),
				"inserted", res.Inserted, "failed", res.Failed)
		}
	}
	return nil
}

// inspect 计算一个文件的全部元数据；摘要已在数据集中时不再计算感知哈希。
func (s *Scanner) inspect(ctx context.Context, scope string, c candidate) *scanResult {
	info, err := os.Stat(c.path)
	if err != nil {
		s.logger.Warn("读取文件信息失败", "path", c.path, "error", err)
		return &scanResult{status: statusFailed}
	}
	digests, err := hasher.CalculateDigests(c.path)
	if err != nil {
		s.logger.Warn("计算文件摘要失败", "path", c.path, "error", err)
		return &scanResult{status: statusFailed}
	}
	exists, err := s.store.Records().ExistsByDigest(ctx, scope, digests.Content)
	if err != nil {
		s.logger.Error("查询摘要失败", "path", c.path, "error", err)
		return &scanResult{status: statusFailed}
	}
	if exists {
		s.logger.Info("跳过（已存在）", "path", c.path)
		return &scanResult{status: statusExisting}
	}

	now := time.Now()
	rec := &models.MediaRecord{
		Path:          c.path,
		FileName:      filepath.Base(c.path),
		Directory:     filepath.Dir(c.path),
		Kind:          c.kind,
		Extension:     strings.TrimPrefix(filepath.Ext(c.path), "."),
		Size:          info.Size(),
		ModTime:       info.ModTime(),
		ContentDigest: digests.Content,
		MD5:           digests.MD5,
		SHA256:        digests.SHA256,
		SHA512:        digests.SHA512,
		// 尚未去重的记录默认都是代表
		IsRepresentative: true,
		DedupeMethod:     models.MethodNone,
		Timestamps:       models.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	if c.kind == models.KindImage {
		img, err := hasher.DecodeImage(c.path)
		if err != nil {
			// 无法解码的图片仍然入库，只是没有感知哈希，去重时单独成簇
			s.logger.Warn("图片解码失败，不计算感知哈希", "path", c.path, "error", err)
		} else {
			rec.Hashes = hasher.PerceptualHashes(img)
		}
	}
	return &scanResult{status: statusNew, record: rec}
}

func (s *Scanner) insert(ctx context.Context, scope string, rec *models.MediaRecord, res *Result) {
	err := s.store.Records().Insert(ctx, scope, rec)
	switch {
	case err == nil:
		res.Inserted++
		s.logger.Debug("记录已写入", "path", rec.Path)
	case errors.Is(err, database.ErrDuplicate):
		res.Existing++
		s.logger.Info("跳过（已存在）", "path", rec.Path)
	default:
		res.Failed++
		s.logger.Error("写入记录失败", "path", rec.Path, "error", err)
	}
}
