package maintenance

import (
	"MediaMerger/pkg/fsx"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/logger"
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

const maintenanceLogFileName = "maintenance.log"

// Maintenance 定义了维护工具的接口
type Maintenance interface {
	// GenerateFileManifest 为目标目录树生成清单，返回清单文件路径。
	GenerateFileManifest(ctx context.Context, libraryPath, outputPath string) (string, error)
	// VerifyManifest 按清单重新计算摘要，返回缺失或内容不一致的相对路径。
	VerifyManifest(ctx context.Context, libraryPath, manifestPath string) ([]string, error)
	BackupDatabase(ctx context.Context, dbURI, dbName, outputPath string) (string, error)
	Close()
}

type defaultMaintenance struct {
	logger     *logger.ModuleLogger
	numWorkers int
}

// 测试时替换
var (
	lookPath = exec.LookPath
	now      = time.Now
)

// NewMaintenance 创建一个新的维护模块实例
func NewMaintenance(logDir string, workerCount int) (Maintenance, error) {
	ml, err := logger.NewModuleLogger(logDir, maintenanceLogFileName)
	if err != nil {
		return nil, fmt.Errorf("无法初始化维护模块日志: %w", err)
	}
	return newMaintenance(ml, workerCount), nil
}

func newMaintenance(ml *logger.ModuleLogger, workerCount int) *defaultMaintenance {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &defaultMaintenance{logger: ml, numWorkers: workerCount}
}

func (m *defaultMaintenance) Close() {
	m.logger.Close()
}

type manifestLine struct {
	rel    string
	digest string
}

// GenerateFileManifest 并发地计算每个文件的内容摘要，每行格式为 "<摘要> *<相对路径>"，按路径排序。
func (m *defaultMaintenance) GenerateFileManifest(ctx context.Context, libraryPath, outputPath string) (string, error) {
	m.logger.Info("--- 开始生成文件清单 (File Manifest) ---", "library", libraryPath)
	root, err := filepath.Abs(libraryPath)
	if err != nil {
		return "", fmt.Errorf("无法获取媒体库绝对路径: %w", err)
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return "", fmt.Errorf("无法创建清单目录: %w", err)
	}

	// 设置并发工作池
	var wg sync.WaitGroup
	tasks := make(chan string, m.numWorkers)
	results := make(chan manifestLine, m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		wg.Add(1)
		go m.manifestWorker(&wg, root, tasks, results)
	}

	var lines []manifestLine
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for line := range results {
			lines = append(lines, line)
		}
	}()

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && !fsx.IsTempFile(d.Name()) && !strings.HasPrefix(d.Name(), ".mediamerger") {
			tasks <- path
		}
		return nil
	})
	close(tasks)
	wg.Wait()
	close(results)
	collectWg.Wait()
	if walkErr != nil {
		return "", fmt.Errorf("扫描媒体库失败: %w", walkErr)
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].rel < lines[j].rel })
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s *%s\n", l.digest, l.rel)
	}
	manifestPath := filepath.Join(outputPath, fmt.Sprintf("manifest_%s.txt", now().Format("2006-01-02")))
	if err := fsx.WriteFileAtomic(manifestPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("无法写入清单文件: %w", err)
	}
	m.logger.Info("--- 文件清单生成完毕 ---", "path", manifestPath, "files", len(lines))
	return manifestPath, nil
}

// manifestWorker 是计算哈希并格式化输出的工人
func (m *defaultMaintenance) manifestWorker(wg *sync.WaitGroup, root string, tasks <-chan string, results chan<- manifestLine) {
	defer wg.Done()
	for path := range tasks {
		digest, err := hasher.ContentDigest(path)
		if err != nil {
			m.logger.Warn("计算文件摘要失败", "path", path, "error", err)
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		// 为了可移植性，将路径分隔符统一为 '/'
		results <- manifestLine{rel: filepath.ToSlash(rel), digest: digest}
	}
}

// VerifyManifest 逐行校验清单，文件缺失或摘要不同都算作不一致。
func (m *defaultMaintenance) VerifyManifest(ctx context.Context, libraryPath, manifestPath string) ([]string, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开清单文件: %w", err)
	}
	defer f.Close()

	var bad []string
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		digest, rel, ok := strings.Cut(sc.Text(), " *")
		if !ok {
			return bad, fmt.Errorf("清单第 %d 行格式错误", lineNo)
		}
		got, err := hasher.ContentDigest(filepath.Join(libraryPath, filepath.FromSlash(rel)))
		if err != nil || got != digest {
			m.logger.Warn("文件与清单不一致", "path", rel, "error", err)
			bad = append(bad, rel)
		}
	}
	if err := sc.Err(); err != nil {
		return bad, fmt.Errorf("读取清单文件失败: %w", err)
	}
	m.logger.Info("清单校验完成", "manifest", manifestPath, "mismatches", len(bad))
	return bad, nil
}

// BackupDatabase 调用 mongodump 工具来备份数据库，返回备份文件路径。
func (m *defaultMaintenance) BackupDatabase(ctx context.Context, dbURI, dbName, outputPath string) (string, error) {
	m.logger.Info("--- 开始执行数据库备份 ---")

	bin, err := lookPath("mongodump")
	if err != nil {
		m.logger.Error("在系统 PATH 中找不到 'mongodump' 命令，请安装 MongoDB Database Tools")
		return "", fmt.Errorf("'mongodump' command not found in PATH: %w", err)
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return "", fmt.Errorf("无法创建备份目录: %w", err)
	}

	archiveFile := filepath.Join(outputPath, fmt.Sprintf("db_backup_%s.gz", now().Format("2006-01-02_150405")))
	m.logger.Info("数据库备份文件将被保存到", "path", archiveFile)

	cmd := exec.CommandContext(ctx, bin,
		"--uri", dbURI,
		"--db", dbName,
		"--archive="+archiveFile,
		"--gzip",
	)
	// 将命令的输出连接到模块日志
	cmd.Stdout = m.logger.Writer()
	cmd.Stderr = m.logger.Writer()

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("执行 mongodump 失败: %w", err)
	}

	m.logger.Info("--- 数据库备份成功 ---")
	return archiveFile, nil
}
