package merger

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/fsx"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/priority"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"
)

// ConflictResolver 在目标目录中查找与给定摘要内容相同的其他文件。
// 调用方持有该目录的锁。
type ConflictResolver interface {
	Find(ctx context.Context, dir, digest, exclude string) ([]string, error)
}

// DirectoryScanResolver 直接对目录中的文件计算摘要，不依赖索引。
// 摘要按 (路径, 大小, 修改时间) 缓存。
type DirectoryScanResolver struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedDigest
}

type cachedDigest struct {
	size    int64
	modTime time.Time
	digest  string
}

func NewDirectoryScanResolver(logger *slog.Logger) *DirectoryScanResolver {
	return &DirectoryScanResolver{logger: logger, cache: make(map[string]cachedDigest)}
}

func (r *DirectoryScanResolver) Find(ctx context.Context, dir, digest, exclude string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || fsx.IsTempFile(e.Name()) || !hasher.IsMedia(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if path == exclude {
			continue
		}
		d, err := r.digestOf(path)
		if err != nil {
			r.logger.Warn("计算目标文件摘要失败，已忽略", "path", path, "error", err)
			continue
		}
		if d == digest {
			out = append(out, path)
		}
	}
	return out, nil
}

func (r *DirectoryScanResolver) digestOf(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	c, ok := r.cache[path]
	r.mu.Unlock()
	if ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return c.digest, nil
	}
	d, err := hasher.ContentDigest(path)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.cache[path] = cachedDigest{size: info.Size(), modTime: info.ModTime(), digest: d}
	r.mu.Unlock()
	return d, nil
}

// IndexResolver 通过哈希索引按摘要反查，只返回同一目录中仍然存在的文件；
// 已消失的文件会从索引中移除。
//
// 每次运行中第一次查询某个目录时，先把该目录的实际内容核对进索引，
// 之后该目录的变化都由合并引擎在持有目录锁时写回索引。
type IndexResolver struct {
	index  *hashindex.Index
	logger *slog.Logger

	mu         sync.Mutex
	reconciled map[string]struct{}
}

func NewIndexResolver(index *hashindex.Index, logger *slog.Logger) *IndexResolver {
	return &IndexResolver{index: index, logger: logger, reconciled: make(map[string]struct{})}
}

// Reset 清除已核对目录的记录，合并引擎在每次运行开始时调用。
func (r *IndexResolver) Reset() {
	r.mu.Lock()
	r.reconciled = make(map[string]struct{})
	r.mu.Unlock()
}

func (r *IndexResolver) Find(ctx context.Context, dir, digest, exclude string) ([]string, error) {
	unsaved, err := r.reconcile(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("核对目录索引失败: %w", err)
	}
	entries, err := r.index.ByDigest(ctx, digest)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if filepath.Dir(e.Path) != dir || e.Path == exclude {
			continue
		}
		if _, err := os.Stat(e.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				r.logger.Info("索引项对应的文件已不存在，移除", "path", e.Path)
				if err := r.index.Remove(ctx, e.Path); err != nil {
					r.logger.Warn("移除过期索引项失败", "path", e.Path, "error", err)
				}
				continue
			}
			return nil, err
		}
		out = append(out, e.Path)
	}
	// 写入索引失败的文件仍然参与本次比较
	for path, d := range unsaved {
		if d == digest && path != exclude && !slices.Contains(out, path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// reconcile 让索引与 dir 的实际内容一致：未被索引、或大小与修改时间和索引项不同的媒体文件
// 重新计算摘要并写入索引，已不存在的文件从索引中移除。
// 返回写入索引失败的文件及其摘要；存在这样的文件时，下次查询会重新核对该目录。
func (r *IndexResolver) reconcile(ctx context.Context, dir string) (map[string]string, error) {
	r.mu.Lock()
	_, done := r.reconciled[dir]
	r.mu.Unlock()
	if done {
		return nil, nil
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	known, err := r.index.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]models.HashIndexEntry, len(known))
	for _, e := range known {
		indexed[e.Path] = e
	}

	var unsaved map[string]string
	added := 0
	for _, d := range dirEntries {
		if !d.Type().IsRegular() || fsx.IsTempFile(d.Name()) || !hasher.IsMedia(d.Name()) {
			continue
		}
		path := filepath.Join(dir, d.Name())
		old, ok := indexed[path]
		delete(indexed, path)
		info, err := d.Info()
		if err != nil {
			r.logger.Warn("读取目标文件信息失败，已忽略", "path", path, "error", err)
			continue
		}
		if ok && old.Size == info.Size() && old.ModTime.Equal(info.ModTime()) {
			continue
		}
		digest, err := hasher.ContentDigest(path)
		if err != nil {
			r.logger.Warn("计算目标文件摘要失败，已忽略", "path", path, "error", err)
			continue
		}
		err = r.index.Add(ctx, models.HashIndexEntry{
			Path:     path,
			Digest:   digest,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Priority: priority.OfPath(path),
		})
		if err != nil {
			r.logger.Warn("更新哈希索引失败", "path", path, "error", err)
			if unsaved == nil {
				unsaved = make(map[string]string)
			}
			unsaved[path] = digest
			continue
		}
		added++
	}
	for path := range indexed {
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			if err := r.index.Remove(ctx, path); err != nil {
				r.logger.Warn("移除过期索引项失败", "path", path, "error", err)
			}
		}
	}
	if added > 0 {
		r.logger.Info("目标目录中有未索引的文件，已补入索引", "dir", dir, "count", added)
	}

	if unsaved == nil {
		r.mu.Lock()
		r.reconciled[dir] = struct{}{}
		r.mu.Unlock()
	}
	return unsaved, nil
}
