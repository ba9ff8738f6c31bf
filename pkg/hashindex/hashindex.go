// Package hashindex 维护目标目录树的内容寻址索引：路径到内容摘要，以及按摘要反查路径。
package hashindex

import (
	"MediaMerger/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrPersistence 表示索引写入在重试一次后仍然失败。对合并任务来说它不是致命错误。
var ErrPersistence = errors.New("哈希索引持久化失败")

const schema = `
CREATE TABLE IF NOT EXISTS hash_index (
	path     TEXT PRIMARY KEY,
	digest   TEXT NOT NULL,
	size     INTEGER NOT NULL,
	mtime    INTEGER NOT NULL,
	priority INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hash_index_digest ON hash_index(digest);
`

const retryDelay = 50 * time.Millisecond

// Index 是基于 SQLite 的哈希索引，可被多个 goroutine 并发使用。
type Index struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open 打开（必要时创建）path 处的索引数据库。
func Open(path string, logger *slog.Logger) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建索引目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开索引数据库失败: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("应用 %q 失败: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化索引表失败: %w", err)
	}
	return &Index{db: db, path: path, logger: logger}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// Path 返回数据库文件路径。
func (x *Index) Path() string {
	return x.path
}

// withRetry 执行一次写操作，失败后重试一次，仍失败则包装为 ErrPersistence。
func (x *Index) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	x.logger.Warn("索引写入失败，重试一次", "op", op, "error", err)
	select {
	case <-time.After(retryDelay):
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, ctx.Err())
	}
	if err = fn(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
	return nil
}

// Add 插入或更新一个索引项。
func (x *Index) Add(ctx context.Context, e models.HashIndexEntry) error {
	return x.withRetry(ctx, "add", func() error {
		_, err := x.db.ExecContext(ctx, `
INSERT INTO hash_index (path, digest, size, mtime, priority) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET digest = excluded.digest, size = excluded.size,
	mtime = excluded.mtime, priority = excluded.priority`,
			e.Path, e.Digest, e.Size, e.ModTime.UnixNano(), e.Priority)
		return err
	})
}

// Remove 删除路径对应的索引项，不存在时不报错。
func (x *Index) Remove(ctx context.Context, path string) error {
	return x.withRetry(ctx, "remove", func() error {
		_, err := x.db.ExecContext(ctx, `DELETE FROM hash_index WHERE path = ?`, path)
		return err
	})
}

// ByDigest 返回所有内容摘要为 digest 的索引项，按路径排序。
func (x *Index) ByDigest(ctx context.Context, digest string) ([]models.HashIndexEntry, error) {
	return x.query(ctx,
		`SELECT path, digest, size, mtime, priority FROM hash_index WHERE digest = ? ORDER BY path`, digest)
}

// ListDir 返回直接位于 dir 下的索引项（不含子目录），按路径排序。
func (x *Index) ListDir(ctx context.Context, dir string) ([]models.HashIndexEntry, error) {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	if dir == string(filepath.Separator) {
		prefix = dir
	}
	// 0xFF 不会出现在 UTF-8 字符串中，作为上界可以走主键索引做前缀范围查询
	all, err := x.query(ctx,
		`SELECT path, digest, size, mtime, priority FROM hash_index WHERE path >= ? AND path < ? ORDER BY path`,
		prefix, prefix+"\xff")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if filepath.Dir(e.Path) == dir {
			out = append(out, e)
		}
	}
	return out, nil
}

func (x *Index) query(ctx context.Context, q string, args ...any) ([]models.HashIndexEntry, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HashIndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get 返回路径对应的索引项。
func (x *Index) Get(ctx context.Context, path string) (models.HashIndexEntry, bool, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT path, digest, size, mtime, priority FROM hash_index WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.HashIndexEntry{}, false, nil
	}
	if err != nil {
		return models.HashIndexEntry{}, false, err
	}
	return e, true, nil
}

// Exists 判断路径是否已被索引。
func (x *Index) Exists(ctx context.Context, path string) (bool, error) {
	_, ok, err := x.Get(ctx, path)
	return ok, err
}

// Count 返回索引项总数。
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hash_index`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.HashIndexEntry, error) {
	var (
		e     models.HashIndexEntry
		mtime int64
	)
	if err := s.Scan(&e.Path, &e.Digest, &e.Size, &mtime, &e.Priority); err != nil {
		return models.HashIndexEntry{}, err
	}
	e.ModTime = time.Unix(0, mtime)
	return e, nil
}
