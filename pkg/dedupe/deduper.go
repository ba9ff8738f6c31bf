package dedupe

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/logger"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const deduperLogFileName = "deduper.log"

// Result 汇总一次去重运行。
type Result struct {
	SourceScope     string `json:"sourceScope"`
	TargetScope     string `json:"targetScope"`
	Directories     int    `json:"directories"`
	Records         int    `json:"records"`
	Clusters        int    `json:"clusters"`
	Representatives int    `json:"representatives"`
	Inserted        int    `json:"inserted"`
	Duplicates      int    `json:"duplicates"`
	Failed          int    `json:"failed"`
}

// Deduper 读取一个数据集，逐目录聚类并标记代表，再把结果写入新的数据集。
type Deduper struct {
	store  database.Store
	logger *logger.ModuleLogger
}

// NewDeduper 创建去重器，模块日志写入 logDir/deduper.log。
func NewDeduper(logDir string, store database.Store) (*Deduper, error) {
	ml, err := logger.NewModuleLogger(logDir, deduperLogFileName)
	if err != nil {
		return nil, fmt.Errorf("无法初始化去重器日志: %w", err)
	}
	return &Deduper{store: store, logger: ml}, nil
}

// newDeduperWithLogger 供测试注入日志记录器。
func newDeduperWithLogger(store database.Store, ml *logger.ModuleLogger) *Deduper {
	return &Deduper{store: store, logger: ml}
}

func (d *Deduper) Close() {
	d.logger.Close()
}

var unsafeScopeChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// TargetScope 根据来源数据集与方法生成结果数据集名，例如 tbl_scanner_deduped_phash。
// 名称先转写为 ASCII，再把其余字符替换为下划线。
func TargetScope(source, method string) string {
	name := unidecode.Unidecode(source + "_deduped_" + method)
	name = unsafeScopeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// ClusterSingle 用单个哈希通道对 sourceScope 去重，结果中的 TargetScope 是新数据集的名称。
func (d *Deduper) ClusterSingle(ctx context.Context, sourceScope string, ch models.HashChannel, threshold int) (*Result, error) {
	method := string(ch)
	return d.run(ctx, sourceScope, method, func(dirRecords []models.MediaRecord) [][]models.MediaRecord {
		return Cluster(dirRecords, ch, threshold)
	}, func(r *models.MediaRecord) bool {
		return Eligible(r, ch)
	}, func(r *models.MediaRecord) {})
}

// ClusterTwoPhase 先用 dhash 粗聚类，再用 phash 细分。
func (d *Deduper) ClusterTwoPhase(ctx context.Context, sourceScope string, dhashThreshold, phashThreshold int) (*Result, error) {
	phase1 := fmt.Sprintf("dHash:%d", dhashThreshold)
	phase2 := fmt.Sprintf("pHash:%d", phashThreshold)
	return d.run(ctx, sourceScope, models.MethodTwoPhase, func(dirRecords []models.MediaRecord) [][]models.MediaRecord {
		return ClusterTwoPhase(dirRecords, models.ChannelDHash, dhashThreshold, models.ChannelPHash, phashThreshold)
	}, func(r *models.MediaRecord) bool {
		return Eligible(r, models.ChannelDHash)
	}, func(r *models.MediaRecord) {
		r.DedupePhase1 = phase1
		r.DedupePhase2 = phase2
	})
}

type clusterFunc func([]models.MediaRecord) [][]models.MediaRecord

func (d *Deduper) run(ctx context.Context, sourceScope, method string, cluster clusterFunc, eligible func(*models.MediaRecord) bool, stamp func(*models.MediaRecord)) (*Result, error) {
	target := TargetScope(sourceScope, method)
	res := &Result{SourceScope: sourceScope, TargetScope: target}
	d.logger.Info("================== 去重任务开始 ==================", "source", sourceScope, "target", target, "method", method)

	records, err := d.store.Records().ListByScope(ctx, sourceScope)
	if err != nil {
		return nil, fmt.Errorf("读取数据集 %s 失败: %w", sourceScope, err)
	}
	res.Records = len(records)

	// 结果数据集总是先删除再重建
	if err := database.ResetScope(ctx, d.store, target); err != nil {
		return nil, fmt.Errorf("重建数据集 %s 失败: %w", target, err)
	}

	dirs, groups := groupByDirectory(records)
	res.Directories = len(dirs)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dirRecords := groups[dir]
		d.logger.Info("处理目录", "directory", dir, "files", len(dirRecords))

		for _, c := range cluster(dirRecords) {
			res.Clusters++
			if len(c) == 1 && !eligible(&c[0]) {
				// 视频和缺少哈希的图片没有参与聚类
				c[0].IsRepresentative = true
				c[0].DedupeMethod = models.MethodNone
			} else {
				MarkRepresentatives(c, method)
			}
			for i := range c {
				stamp(&c[i])
				if c[i].IsRepresentative {
					res.Representatives++
				}
				d.insert(ctx, target, &c[i], res)
			}
		}
	}

	d.logger.Info("================== 去重任务结束 ==================",
		"target", target, "records", res.Records, "clusters", res.Clusters,
		"representatives", res.Representatives, "inserted", res.Inserted, "failed", res.Failed)
	return res, nil
}

// insert 写入一条结果记录；单条失败只记录日志，不中断整个运行。
func (d *Deduper) insert(ctx context.Context, target string, rec *models.MediaRecord, res *Result) {
	rec.ID = primitive.NilObjectID
	err := d.store.Records().Insert(ctx, target, rec)
	switch {
	case err == nil:
		res.Inserted++
	case errors.Is(err, database.ErrDuplicate):
		res.Duplicates++
		d.logger.Debug("记录已存在，跳过", "path", rec.Path)
	default:
		res.Failed++
		d.logger.Error("插入记录失败", "path", rec.Path, "error", err)
	}
}

// groupByDirectory 按目录分组，目录按首次出现的顺序返回，组内保持输入顺序。
func groupByDirectory(records []models.MediaRecord) ([]string, map[string][]models.MediaRecord) {
	var order []string
	groups := make(map[string][]models.MediaRecord)
	for _, r := range records {
		key := r.Directory
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	return order, groups
}
