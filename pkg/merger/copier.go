package merger

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/checkpoint"
	"MediaMerger/pkg/hasher"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// CopyOptions 描述从一个（通常是去重后的）数据集复制代表文件的运行。
type CopyOptions struct {
	ImageDest string
	VideoDest string
	// DirectoryDepth 是保留的来源目录层数，0 表示全部平铺到目标根目录。
	DirectoryDepth int
	// HumanOnly 为 true 时只复制检测到人物的图片，视频不受影响。
	HumanOnly bool
	Workers   int
}

// CopyRecords 复制数据集中的代表文件，冲突判断与 MergeSources 完全相同。
func (e *Engine) CopyRecords(ctx context.Context, records []models.MediaRecord, opts CopyOptions) (*Summary, error) {
	start := time.Now()
	imageDest, videoDest, unlock, err := e.begin(opts.ImageDest, opts.VideoDest)
	if err != nil {
		return nil, err
	}
	defer unlock()

	workers := workerCount(opts.Workers)
	e.logger.Info("================== 复制任务开始 ==================",
		"records", len(records), "imageDest", imageDest, "videoDest", videoDest,
		"depth", opts.DirectoryDepth, "humanOnly", opts.HumanOnly)

	r := &run{e: e, tracker: checkpoint.NewTracker("", 0, false, e.logger.Logger)}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	workCtx := context.WithoutCancel(ctx)

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		kind, ok := r.admit(rec, opts.HumanOnly)
		if !ok {
			r.add(func(s *Summary) { s.Filtered++ })
			continue
		}
		if info, err := os.Stat(rec.Path); err != nil || !info.Mode().IsRegular() {
			e.logger.Warn("来源文件不存在", "path", rec.Path)
			r.add(func(s *Summary) { s.Errored++ })
			continue
		}
		destRoot := imageDest
		if kind == models.KindVideo {
			destRoot = videoDest
		}
		dst := PreservePath(rec.Path, destRoot, opts.DirectoryDepth)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			e.logger.Error("创建目标子目录失败", "dir", filepath.Dir(dst), "error", err)
			r.add(func(s *Summary) { s.Errored++ })
			continue
		}
		j := job{src: rec.Path, dst: dst}
		g.Go(func() error {
			r.process(workCtx, j)
			return nil
		})
	}
	_ = g.Wait()

	r.sum.Cancelled = ctx.Err() != nil
	r.sum.Duration = time.Since(start)
	e.logSummary(&r.sum)
	return &r.sum, nil
}

// admit 判断记录是否需要复制，并返回按扩展名确定的媒体类型。
// 扩展名无法识别时退回到记录中保存的类型。
func (r *run) admit(rec *models.MediaRecord, humanOnly bool) (models.MediaKind, bool) {
	if !rec.IsRepresentative {
		r.e.logger.Debug("跳过非代表文件", "path", rec.Path)
		return "", false
	}
	kind := hasher.KindOf(rec.Path)
	if kind == "" {
		switch rec.Kind {
		case models.KindImage, models.KindVideo:
			r.e.logger.Warn("扩展名无法识别，使用记录中的类型", "path", rec.Path, "kind", rec.Kind)
			kind = rec.Kind
		default:
			r.e.logger.Debug("跳过不支持的文件类型", "path", rec.Path)
			return "", false
		}
	}
	if humanOnly && kind == models.KindImage && !rec.Human.HasHuman {
		r.e.logger.Info("跳过未检测到人物的图片", "path", rec.Path)
		return "", false
	}
	return kind, true
}

// PreservePath 计算目标路径：保留来源路径中文件名之前的最后 depth 层目录。
func PreservePath(src, destRoot string, depth int) string {
	name := filepath.Base(src)
	if depth <= 0 {
		return filepath.Join(destRoot, name)
	}
	dir := filepath.Dir(filepath.Clean(src))
	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(dir), "/") {
		if strings.TrimSpace(p) != "" && !strings.HasSuffix(p, ":") {
			parts = append(parts, p)
		}
	}
	if len(parts) > depth {
		parts = parts[len(parts)-depth:]
	}
	return filepath.Join(append(append([]string{destRoot}, parts...), name)...)
}
