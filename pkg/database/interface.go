package database

import (
	"MediaMerger/internal/models"
	"context"
	"errors"
)

// ErrDuplicate 表示记录的路径或内容摘要在数据集中已存在。
var ErrDuplicate = errors.New("记录已存在")

// Store 是一个顶层接口，它组合了所有特定数据模型的存储接口。
// 每个数据集（scope）是一组独立的 MediaRecord，例如扫描结果和各次去重的结果。
type Store interface {
	Records() RecordStore
	EnsureIndexes(ctx context.Context, scope string) error
	Close(ctx context.Context) error
}

// RecordStore 定义了所有与 MediaRecord 相关的数据库操作。
type RecordStore interface {
	// ListByScope 按插入顺序返回数据集中的全部记录。
	ListByScope(ctx context.Context, scope string) ([]models.MediaRecord, error)
	// Insert 插入一条记录；路径或摘要重复时返回 ErrDuplicate。
	Insert(ctx context.Context, scope string, rec *models.MediaRecord) error
	ExistsByDigest(ctx context.Context, scope, digest string) (bool, error)
	Count(ctx context.Context, scope string) (int64, error)
	// DropScope 删除整个数据集，数据集不存在时不报错。
	DropScope(ctx context.Context, scope string) error
	ListScopes(ctx context.Context) ([]string, error)
}

// ResetScope 清空数据集并重建索引。
func ResetScope(ctx context.Context, s Store, scope string) error {
	if err := s.Records().DropScope(ctx, scope); err != nil {
		return err
	}
	return s.EnsureIndexes(ctx, scope)
}
