package task

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/dedupe"
	"MediaMerger/pkg/merger"
	"MediaMerger/pkg/scanner"
	"context"
	"errors"
	"fmt"
)

// Scanner 是扫描任务需要的能力。
type Scanner interface {
	Scan(ctx context.Context, opts scanner.Options) (*scanner.Result, error)
}

// Merger 是合并与复制任务需要的能力。
type Merger interface {
	MergeSources(ctx context.Context, opts merger.Options) (*merger.Summary, error)
	CopyRecords(ctx context.Context, records []models.MediaRecord, opts merger.CopyOptions) (*merger.Summary, error)
}

// Deduper 是去重任务需要的能力。
type Deduper interface {
	ClusterSingle(ctx context.Context, sourceScope string, ch models.HashChannel, threshold int) (*dedupe.Result, error)
	ClusterTwoPhase(ctx context.Context, sourceScope string, dhashThreshold, phashThreshold int) (*dedupe.Result, error)
}

// DedupeRequest 描述一次去重。Method 为 "single" 时使用 Channel 与 Threshold，
// 为 "twophase" 时使用两个阈值。
type DedupeRequest struct {
	Scope          string `json:"scope"`
	Method         string `json:"method"`
	Channel        string `json:"channel"`
	Threshold      int    `json:"threshold"`
	DHashThreshold int    `json:"dhashThreshold"`
	PHashThreshold int    `json:"phashThreshold"`
}

func ScanRunner(s Scanner, opts scanner.Options) Runner {
	return func(ctx context.Context) (any, bool, error) {
		res, err := s.Scan(ctx, opts)
		if err != nil {
			return nil, false, err
		}
		return res, res.Cancelled, nil
	}
}

func MergeRunner(e Merger, opts merger.Options) Runner {
	return func(ctx context.Context) (any, bool, error) {
		sum, err := e.MergeSources(ctx, opts)
		if err != nil {
			return nil, false, err
		}
		return sum, sum.Cancelled, nil
	}
}

// CopyRunner 读取数据集后复制其中的代表文件。
func CopyRunner(e Merger, store database.Store, scope string, opts merger.CopyOptions) Runner {
	return func(ctx context.Context) (any, bool, error) {
		records, err := store.Records().ListByScope(ctx, scope)
		if err != nil {
			return nil, false, fmt.Errorf("读取数据集 %s 失败: %w", scope, err)
		}
		sum, err := e.CopyRecords(ctx, records, opts)
		if err != nil {
			return nil, false, err
		}
		return sum, sum.Cancelled, nil
	}
}

func DedupeRunner(d Deduper, req DedupeRequest) (Runner, error) {
	switch req.Method {
	case "single", "":
		ch, ok := models.ParseChannel(req.Channel)
		if !ok {
			return nil, fmt.Errorf("不支持的哈希通道: %q", req.Channel)
		}
		return func(ctx context.Context) (any, bool, error) {
			res, err := d.ClusterSingle(ctx, req.Scope, ch, req.Threshold)
			return dedupeOutcome(res, err)
		}, nil
	case "twophase":
		return func(ctx context.Context) (any, bool, error) {
			res, err := d.ClusterTwoPhase(ctx, req.Scope, req.DHashThreshold, req.PHashThreshold)
			return dedupeOutcome(res, err)
		}, nil
	default:
		return nil, fmt.Errorf("不支持的去重方法: %q", req.Method)
	}
}

// dedupeOutcome 把去重器返回的取消错误转换为取消状态。
func dedupeOutcome(res *dedupe.Result, err error) (any, bool, error) {
	if errors.Is(err, context.Canceled) {
		return res, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, false, nil
}
