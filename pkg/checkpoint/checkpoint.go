// Package checkpoint 持久化合并进度：已处理的来源路径集合。
package checkpoint

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/fsx"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultEvery 是默认的落盘间隔（已处理文件数）。
const DefaultEvery = 50

// Load 读取断点文件。文件不存在或无法解析时返回空集合，后者会记录警告。
func Load(path string, logger *slog.Logger) map[string]struct{} {
	set := make(map[string]struct{})
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("读取断点文件失败，将从头开始", "path", path, "error", err)
		}
		return set
	}
	var state models.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("断点文件已损坏，将从头开始", "path", path, "error", err)
		return set
	}
	for _, p := range state.ProcessedFiles {
		set[p] = struct{}{}
	}
	return set
}

// Save 把集合整体写入断点文件（临时文件 + rename）。路径按字典序排列。
func Save(path string, set map[string]struct{}) error {
	files := make([]string, 0, len(set))
	for p := range set {
		files = append(files, p)
	}
	sort.Strings(files)
	return save(path, files)
}

func save(path string, files []string) error {
	state := models.ProgressState{
		Timestamp:      time.Now().Format(time.RFC3339Nano),
		ProcessedFiles: files,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("写入断点文件 %s 失败: %w", path, err)
	}
	return nil
}

// Tracker 在内存中维护已处理集合，并每 every 次标记落盘一次。
// 多个 worker 可以并发调用 Mark；较旧的快照永远不会覆盖较新的快照。
type Tracker struct {
	path   string
	every  int
	logger *slog.Logger

	mu      sync.Mutex
	set     map[string]struct{}
	pending int
	gen     uint64

	flushMu sync.Mutex
	written uint64
}

// NewTracker 创建进度跟踪器。resume 为 false 时忽略已有的断点文件。
// path 为空时只在内存中跟踪。
func NewTracker(path string, every int, resume bool, logger *slog.Logger) *Tracker {
	if every <= 0 {
		every = DefaultEvery
	}
	set := make(map[string]struct{})
	if resume && path != "" {
		set = Load(path, logger)
		if len(set) > 0 {
			logger.Info("已从断点恢复", "path", path, "processed", len(set))
		}
	}
	return &Tracker{path: path, every: every, logger: logger, set: set}
}

// Done 判断路径是否已处理。
func (t *Tracker) Done(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.set[path]
	return ok
}

// Len 返回已处理的路径数。
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.set)
}

// Mark 记录路径已处理，达到间隔时落盘。落盘失败只返回错误，内存状态仍然保留。
func (t *Tracker) Mark(path string) error {
	t.mu.Lock()
	if _, ok := t.set[path]; ok {
		t.mu.Unlock()
		return nil
	}
	t.set[path] = struct{}{}
	t.pending++
	due := t.pending >= t.every
	t.mu.Unlock()

	if due {
		return t.Flush()
	}
	return nil
}

// Flush 立即把当前集合写入断点文件。
func (t *Tracker) Flush() error {
	if t.path == "" {
		return nil
	}
	t.mu.Lock()
	files := make([]string, 0, len(t.set))
	for p := range t.set {
		files = append(files, p)
	}
	t.pending = 0
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	if gen <= t.written {
		return nil
	}
	sort.Strings(files)
	if err := save(t.path, files); err != nil {
		return err
	}
	t.written = gen
	t.logger.Debug("断点已保存", "path", t.path, "processed", len(files))
	return nil
}
