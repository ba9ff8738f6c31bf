package hashindex

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/fsx"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/priority"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Rebuild 重新扫描 root 下的所有媒体文件并替换 root 下已有的全部索引项。
// 无法读取的文件记录日志后跳过。返回写入的索引项数。
func (x *Index) Rebuild(ctx context.Context, root string, workerCount int) (int, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return 0, fmt.Errorf("无法获取绝对路径: %w", err)
	}
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	x.logger.Info("开始重建哈希索引", "root", root, "workers", workerCount)

	var wg sync.WaitGroup
	tasks := make(chan string, workerCount)
	results := make(chan models.HashIndexEntry, workerCount)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go x.rebuildWorker(&wg, tasks, results)
	}

	var entries []models.HashIndexEntry
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for e := range results {
			entries = append(entries, e)
		}
	}()

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			x.logger.Warn("遍历时无法访问路径，已跳过", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			if path == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || fsx.IsTempFile(d.Name()) || !hasher.IsMedia(path) {
			return nil
		}
		tasks <- path
		return nil
	})
	close(tasks)
	wg.Wait()
	close(results)
	collectWg.Wait()
	if walkErr != nil {
		return 0, fmt.Errorf("扫描目录 %s 失败: %w", root, walkErr)
	}

	if err := x.replaceUnder(ctx, root, entries); err != nil {
		return 0, err
	}
	x.logger.Info("哈希索引重建完成", "root", root, "entries", len(entries))
	return len(entries), nil
}

func (x *Index) rebuildWorker(wg *sync.WaitGroup, tasks <-chan string, results chan<- models.HashIndexEntry) {
	defer wg.Done()
	for path := range tasks {
		info, err := os.Stat(path)
		if err != nil {
			x.logger.Warn("读取文件信息失败，已跳过", "path", path, "error", err)
			continue
		}
		digest, err := hasher.ContentDigest(path)
		if err != nil {
			x.logger.Warn("计算摘要失败，已跳过", "path", path, "error", err)
			continue
		}
		results <- models.HashIndexEntry{
			Path:     path,
			Digest:   digest,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Priority: priority.OfPath(path),
		}
	}
}

// replaceUnder 在一个事务中删除 root 下的旧索引项并写入新的索引项。
func (x *Index) replaceUnder(ctx context.Context, root string, entries []models.HashIndexEntry) error {
	return x.withRetry(ctx, "rebuild", func() error {
		tx, err := x.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `SELECT path FROM hash_index`)
		if err != nil {
			return err
		}
		var stale []string
		prefix := root + string(filepath.Separator)
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return err
			}
			if p == root || strings.HasPrefix(p, prefix) {
				stale = append(stale, p)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, p := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM hash_index WHERE path = ?`, p); err != nil {
				return err
			}
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO hash_index (path, digest, size, mtime, priority) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Path, e.Digest, e.Size, e.ModTime.UnixNano(), e.Priority); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
