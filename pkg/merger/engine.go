// Package merger 把多个来源目录合并到图片与视频两个目标目录树中。
//
// 同一目标目录内，内容相同的文件只保留文件名优先级最高的一份；
// 合并可以中断并从断点继续，重复运行不会产生任何复制或删除。
package merger

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/checkpoint"
	"MediaMerger/pkg/fsx"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/logger"
	"MediaMerger/pkg/priority"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// ErrDestinationLocked 表示另一个进程正在向同一目标目录合并。
var ErrDestinationLocked = errors.New("目标目录正被另一个合并进程使用")

const (
	mergerLogFileName = "merger.log"
	lockFileName      = ".mediamerger.lock"
)

// Options 描述一次合并运行。
type Options struct {
	Sources         []string
	ImageDest       string
	VideoDest       string
	Workers         int
	Resume          bool
	RebuildIndex    bool
	CheckpointPath  string
	CheckpointEvery int
}

// Summary 是一次运行的统计结果。
type Summary struct {
	Processed   int           `json:"processed"`
	Copied      int           `json:"copied"`
	Replaced    int           `json:"replaced"`
	Skipped     int           `json:"skipped"`
	Deleted     int           `json:"deleted"`
	AlreadyDone int           `json:"alreadyDone"`
	Filtered    int           `json:"filtered"`
	Errored     int           `json:"errored"`
	FailedRoots []string      `json:"failedRoots,omitempty"`
	Cancelled   bool          `json:"cancelled"`
	Duration    time.Duration `json:"duration"`
}

// resetter 由需要在每次运行开始时清空状态的 ConflictResolver 实现。
type resetter interface {
	Reset()
}

// Engine 执行合并。同一个 Engine 可以先后执行多次运行。
type Engine struct {
	logger   *logger.ModuleLogger
	index    *hashindex.Index
	resolver ConflictResolver
	locks    *dirLocks
}

// NewEngine 创建合并引擎，模块日志写入 logDir/merger.log。
// index 可以为 nil；resolver 为 nil 时，有索引则按索引查找冲突，否则扫描目标目录。
func NewEngine(logDir string, index *hashindex.Index, resolver ConflictResolver) (*Engine, error) {
	ml, err := logger.NewModuleLogger(logDir, mergerLogFileName)
	if err != nil {
		return nil, fmt.Errorf("无法初始化合并模块日志: %w", err)
	}
	return newEngine(ml, index, resolver), nil
}

func newEngine(ml *logger.ModuleLogger, index *hashindex.Index, resolver ConflictResolver) *Engine {
	if resolver == nil {
		if index != nil {
			resolver = NewIndexResolver(index, ml.Logger)
		} else {
			resolver = NewDirectoryScanResolver(ml.Logger)
		}
	}
	return &Engine{logger: ml, index: index, resolver: resolver, locks: newDirLocks()}
}

func (e *Engine) Close() {
	e.logger.Close()
}

type outcomeKind int

const (
	outcomeCopied outcomeKind = iota
	outcomeReplaced
	outcomeSkipped
)

type outcome struct {
	kind    outcomeKind
	deleted int
}

type job struct {
	src   string
	dst   string
	track bool
}

// run 保存一次运行的共享状态。
type run struct {
	e       *Engine
	tracker *checkpoint.Tracker

	mu  sync.Mutex
	sum Summary
}

func (r *run) add(fn func(s *Summary)) {
	r.mu.Lock()
	fn(&r.sum)
	r.mu.Unlock()
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// begin 准备目标目录并获取目标目录的进程锁。任何失败都是致命的。
func (e *Engine) begin(imageDest, videoDest string) (string, string, func(), error) {
	if imageDest == "" || videoDest == "" {
		return "", "", nil, errors.New("必须同时指定图片与视频目标目录")
	}
	img, err := filepath.Abs(imageDest)
	if err != nil {
		return "", "", nil, fmt.Errorf("无法获取图片目标目录绝对路径: %w", err)
	}
	vid, err := filepath.Abs(videoDest)
	if err != nil {
		return "", "", nil, fmt.Errorf("无法获取视频目标目录绝对路径: %w", err)
	}
	for _, d := range []string{img, vid} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", "", nil, fmt.Errorf("无法创建目标目录 %s: %w", d, err)
		}
	}

	lock := flock.New(filepath.Join(img, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return "", "", nil, fmt.Errorf("获取目标目录锁失败: %w", err)
	}
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %s", ErrDestinationLocked, img)
	}
	unlock := func() {
		if err := lock.Unlock(); err != nil {
			e.logger.Warn("释放目标目录锁失败", "error", err)
		}
	}
	if rs, ok := e.resolver.(resetter); ok {
		rs.Reset()
	}
	return img, vid, unlock, nil
}

// MergeSources 把 opts.Sources 中的每个来源目录合并到目标目录。
//
// 只有目标目录、索引或目标目录锁的准备失败会返回错误；单个来源目录不可用只记录在
// Summary.FailedRoots 中，单个文件的失败计入 Summary.Errored。ctx 取消后不再提交新文件，
// 已开始的文件会完成，断点在返回前落盘。
func (e *Engine) MergeSources(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	imageDest, videoDest, unlock, err := e.begin(opts.ImageDest, opts.VideoDest)
	if err != nil {
		return nil, err
	}
	defer unlock()

	workers := workerCount(opts.Workers)
	e.logger.Info("================== 合并任务开始 ==================",
		"sources", opts.Sources, "imageDest", imageDest, "videoDest", videoDest, "workers", workers)

	if opts.RebuildIndex && e.index != nil {
		for _, d := range uniqueDirs(imageDest, videoDest) {
			if _, err := e.index.Rebuild(ctx, d, workers); err != nil {
				if ctx.Err() != nil {
					sum := &Summary{Cancelled: true, Duration: time.Since(start)}
					e.logger.Warn("重建哈希索引时任务被取消", "dir", d)
					e.logSummary(sum)
					return sum, nil
				}
				return nil, fmt.Errorf("重建哈希索引失败: %w", err)
			}
		}
	}

	r := &run{e: e, tracker: checkpoint.NewTracker(opts.CheckpointPath, opts.CheckpointEvery, opts.Resume, e.logger.Logger)}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	// 已提交的文件不受取消影响
	workCtx := context.WithoutCancel(ctx)

	for _, src := range opts.Sources {
		if ctx.Err() != nil {
			break
		}
		if err := r.walkSource(ctx, workCtx, g, src, imageDest, videoDest); err != nil {
			e.logger.Error("来源目录处理失败", "source", src, "error", err)
			r.add(func(s *Summary) { s.FailedRoots = append(s.FailedRoots, src) })
		}
	}
	_ = g.Wait()

	if err := r.tracker.Flush(); err != nil {
		e.logger.Error("保存断点失败", "path", opts.CheckpointPath, "error", err)
	}
	r.sum.Cancelled = ctx.Err() != nil
	r.sum.Duration = time.Since(start)
	e.logSummary(&r.sum)
	return &r.sum, nil
}

// walkSource 顺序遍历来源目录：先在两个目标树中创建对应目录，再提交目录中的文件。
func (r *run) walkSource(ctx, workCtx context.Context, g *errgroup.Group, src, imageDest, videoDest string) error {
	root, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("来源目录不可用: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("来源路径不是目录: %s", root)
	}
	r.e.logger.Info("开始处理来源目录", "source", root)

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			r.e.logger.Warn("无法访问路径，已跳过", "path", path, "error", err)
			r.add(func(s *Summary) { s.Errored++ })
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (path == imageDest || path == videoDest) {
				return filepath.SkipDir
			}
			rel, _ := filepath.Rel(root, path)
			for _, dest := range uniqueDirs(imageDest, videoDest) {
				if err := os.MkdirAll(filepath.Join(dest, rel), 0755); err != nil {
					r.e.logger.Error("创建目标子目录失败，跳过该目录", "dir", filepath.Join(dest, rel), "error", err)
					r.add(func(s *Summary) { s.Errored++ })
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() || fsx.IsTempFile(d.Name()) {
			return nil
		}
		kind := hasher.KindOf(path)
		if kind == "" {
			return nil
		}
		if r.tracker.Done(path) {
			r.add(func(s *Summary) { s.AlreadyDone++ })
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		destRoot := imageDest
		if kind == models.KindVideo {
			destRoot = videoDest
		}
		j := job{src: path, dst: filepath.Join(destRoot, rel), track: true}
		g.Go(func() error {
			r.process(workCtx, j)
			return nil
		})
		return nil
	})
}

// process 在目标目录锁内完成一个文件的冲突判断、复制、索引更新与进度标记。
func (r *run) process(ctx context.Context, j job) {
	digest, err := hasher.ContentDigest(j.src)
	if err != nil {
		r.e.logger.Warn("计算来源文件摘要失败，已跳过", "src", j.src, "error", err)
		r.add(func(s *Summary) { s.Errored++ })
		return
	}
	srcPriority := priority.OfPath(j.src)

	unlock := r.e.locks.Lock(filepath.Dir(j.dst))
	defer unlock()

	out, err := r.e.resolve(ctx, j, digest, srcPriority)
	if err != nil {
		r.e.logger.Warn("处理文件失败，已跳过", "src", j.src, "dst", j.dst, "error", err)
		r.add(func(s *Summary) { s.Errored++ })
		return
	}
	r.add(func(s *Summary) {
		s.Processed++
		s.Deleted += out.deleted
		switch out.kind {
		case outcomeCopied:
			s.Copied++
		case outcomeReplaced:
			s.Replaced++
		case outcomeSkipped:
			s.Skipped++
		}
	})
	if j.track {
		if err := r.tracker.Mark(j.src); err != nil {
			r.e.logger.Error("保存断点失败", "error", err)
		}
	}
}

// resolve 决定一个来源文件的去向。调用方持有目标目录锁。
func (e *Engine) resolve(ctx context.Context, j job, digest string, srcPriority int) (outcome, error) {
	info, err := os.Stat(j.dst)
	switch {
	case err == nil:
		if !info.Mode().IsRegular() {
			return outcome{}, fmt.Errorf("目标路径不是普通文件: %s", j.dst)
		}
		existing, err := hasher.ContentDigest(j.dst)
		if err != nil {
			return outcome{}, fmt.Errorf("计算目标文件摘要失败: %w", err)
		}
		if existing == digest {
			e.indexAdd(ctx, j.dst, digest)
			e.logger.Debug("目标已存在相同文件", "src", j.src, "dst", j.dst)
			return outcome{kind: outcomeSkipped}, nil
		}
		if !priority.Better(srcPriority, priority.OfPath(j.dst)) {
			e.logger.Debug("目标已有同名且优先级不低的文件", "src", j.src, "dst", j.dst)
			return outcome{kind: outcomeSkipped}, nil
		}
		return e.replace(ctx, j, digest, []string{j.dst})
	case errors.Is(err, os.ErrNotExist):
	default:
		return outcome{}, err
	}

	matches, err := e.resolver.Find(ctx, filepath.Dir(j.dst), digest, j.dst)
	if err != nil {
		return outcome{}, fmt.Errorf("查找同内容文件失败: %w", err)
	}
	if len(matches) == 0 {
		if err := fsx.CopyFileAtomic(j.src, j.dst); err != nil {
			return outcome{}, fmt.Errorf("复制失败: %w", err)
		}
		e.indexAdd(ctx, j.dst, digest)
		e.logger.Debug("已复制", "src", j.src, "dst", j.dst)
		return outcome{kind: outcomeCopied}, nil
	}
	for _, m := range matches {
		if !priority.Better(srcPriority, priority.OfPath(m)) {
			e.logger.Debug("目标目录已有优先级不低的同内容文件", "src", j.src, "existing", m)
			return outcome{kind: outcomeSkipped}, nil
		}
	}
	return e.replace(ctx, j, digest, matches)
}

// replace 先把来源文件原子复制到目标位置，再删除被替换的低优先级文件。
func (e *Engine) replace(ctx context.Context, j job, digest string, victims []string) (outcome, error) {
	if err := fsx.CopyFileAtomic(j.src, j.dst); err != nil {
		return outcome{}, fmt.Errorf("复制失败: %w", err)
	}
	out := outcome{kind: outcomeReplaced}
	for _, v := range victims {
		// 删除总是以 WARN 级别记录，不受日志级别配置影响
		e.logger.Warn("用更高优先级的文件替换", "src", j.src, "dst", v)
		if v == j.dst {
			out.deleted++
			continue
		}
		removed, err := fsx.RemoveIfExists(v)
		if err != nil {
			e.logger.Error("删除被替换文件失败", "path", v, "error", err)
			continue
		}
		if !removed {
			e.logger.Info("被替换的文件已不存在", "path", v)
		} else {
			out.deleted++
		}
		e.indexRemove(ctx, v)
	}
	e.indexAdd(ctx, j.dst, digest)
	return out, nil
}

func (e *Engine) indexAdd(ctx context.Context, path, digest string) {
	if e.index == nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		e.logger.Warn("读取文件信息失败，未更新索引", "path", path, "error", err)
		return
	}
	err = e.index.Add(ctx, models.HashIndexEntry{
		Path:     path,
		Digest:   digest,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Priority: priority.OfPath(path),
	})
	if err != nil {
		e.logger.Warn("更新哈希索引失败", "path", path, "error", err)
	}
}

func (e *Engine) indexRemove(ctx context.Context, path string) {
	if e.index == nil {
		return
	}
	if err := e.index.Remove(ctx, path); err != nil {
		e.logger.Warn("移除哈希索引项失败", "path", path, "error", err)
	}
}

func (e *Engine) logSummary(s *Summary) {
	e.logger.Info("================== 合并任务结束 ==================",
		"processed", s.Processed, "copied", s.Copied, "replaced", s.Replaced,
		"skipped", s.Skipped, "deleted", s.Deleted, "alreadyDone", s.AlreadyDone,
		"filtered", s.Filtered, "errored", s.Errored, "failedRoots", len(s.FailedRoots),
		"cancelled", s.Cancelled, "duration", s.Duration)
}

func uniqueDirs(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}
