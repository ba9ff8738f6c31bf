package mongo

import (
	"MediaMerger/config"
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 是 database.Store 接口的MongoDB实现。每个数据集对应一个集合。
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	records *recordStore
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

// recordStore 封装了与数据集集合相关的所有操作。
type recordStore struct {
	db *mongo.Database
}

// NewStore 创建并返回一个新的 Store 实例，并建立与MongoDB的连接。
func NewStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	slog.Info("正在连接到 MongoDB...", "uri", cfg.Database.URI)
	clientCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.Database.URI)
	client, err := mongo.Connect(clientCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(clientCtx, nil); err != nil {
		return nil, err
	}
	slog.Info("MongoDB 连接成功")

	db := client.Database(cfg.Database.Name)
	return &Store{
		client:  client,
		db:      db,
		records: &recordStore{db: db},
	}, nil
}

func (s *Store) Records() database.RecordStore {
	return s.records
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes 为数据集集合创建路径与摘要的唯一索引，以及每个哈希通道的普通索引。
func (s *Store) EnsureIndexes(ctx context.Context, scope string) error {
	slog.Info("正在确保数据集索引存在...", "scope", scope)
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "filePath", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_filepath_unique"),
		},
		{
			Keys:    bson.D{{Key: "contentDigest", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_digest_unique"),
		},
		{
			Keys:    bson.D{{Key: "fileDirectory", Value: 1}},
			Options: options.Index().SetName("idx_directory"),
		},
		{
			Keys:    bson.D{{Key: "md5", Value: 1}},
			Options: options.Index().SetName("idx_md5"),
		},
		{
			Keys:    bson.D{{Key: "sha256", Value: 1}},
			Options: options.Index().SetName("idx_sha256"),
		},
	}
	for _, ch := range models.Channels {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "hashes." + string(ch), Value: 1}},
			Options: options.Index().SetName("idx_" + string(ch)),
		})
	}
	if _, err := s.db.Collection(scope).Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("为数据集创建索引失败", "scope", scope, "error", err)
		return err
	}
	slog.Info("数据集索引已验证/创建。", "scope", scope)
	return nil
}

func (r *recordStore) ListByScope(ctx context.Context, scope string) ([]models.MediaRecord, error) {
	var records []models.MediaRecord
	// ObjectID 单调递增，按 _id 排序即插入顺序
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.db.Collection(scope).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *recordStore) Insert(ctx context.Context, scope string, rec *models.MediaRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	res, err := r.db.Collection(scope).InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", database.ErrDuplicate, rec.Path)
		}
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		rec.ID = id
	}
	return nil
}

func (r *recordStore) ExistsByDigest(ctx context.Context, scope, digest string) (bool, error) {
	err := r.db.Collection(scope).FindOne(ctx, bson.M{"contentDigest": digest},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *recordStore) Count(ctx context.Context, scope string) (int64, error) {
	return r.db.Collection(scope).CountDocuments(ctx, bson.D{})
}

func (r *recordStore) DropScope(ctx context.Context, scope string) error {
	slog.Warn("正在删除数据集集合", "scope", scope)
	return r.db.Collection(scope).Drop(ctx)
}

func (r *recordStore) ListScopes(ctx context.Context) ([]string, error) {
	names, err := r.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
