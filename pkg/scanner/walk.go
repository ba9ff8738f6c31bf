package scanner

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/priority"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Filter 按文件名与目录名的通配模式排除路径，语义同 filepath.Match。
type Filter struct {
	files []string
	dirs  []string
}

// NewFilter 校验全部模式，任何一个无效都会返回错误。
func NewFilter(filePatterns, dirPatterns []string) (*Filter, error) {
	for _, p := range append(append([]string{}, filePatterns...), dirPatterns...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("无效的排除模式 '%s': %w", p, err)
		}
	}
	return &Filter{files: filePatterns, dirs: dirPatterns}, nil
}

func (f *Filter) ExcludeFile(name string) bool {
	return matchAny(f.files, name)
}

func (f *Filter) ExcludeDir(name string) bool {
	return matchAny(f.dirs, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// candidate 是一个待处理的媒体文件。
type candidate struct {
	path     string
	kind     models.MediaKind
	priority int
}

// collect 遍历 root，返回按文件名优先级排序的媒体文件；同优先级保持遍历顺序。
// skipped 是被忽略的非媒体文件数量。
func collect(root string, filter *Filter) (files []candidate, skipped int, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && filter.ExcludeDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || filter.ExcludeFile(d.Name()) {
			return nil
		}
		kind := hasher.KindOf(path)
		if kind == "" {
			skipped++
			return nil
		}
		files = append(files, candidate{path: path, kind: kind, priority: priority.Of(d.Name())})
		return nil
	})
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].priority < files[j].priority
	})
	return files, skipped, err
}

// DirStats 是一个目录中直接包含的媒体文件数量。
type DirStats struct {
	Dir    string `json:"dir"`
	Images int    `json:"images"`
	Videos int    `json:"videos"`
}

func (d DirStats) Total() int { return d.Images + d.Videos }

// RootStats 是扫描前对一个根目录的统计。
type RootStats struct {
	Root    string     `json:"root"`
	Images  int        `json:"images"`
	Videos  int        `json:"videos"`
	Subdirs []DirStats `json:"subdirs"`
}

// Stat 统计 root 下各目录的图片与视频数量，子目录按文件数降序排列，空目录不列出。
func Stat(root string, filter *Filter) (RootStats, error) {
	stats := RootStats{Root: root}
	byDir := make(map[string]*DirStats)
	var order []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && filter.ExcludeDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filter.ExcludeFile(d.Name()) {
			return nil
		}
		kind := hasher.KindOf(path)
		if kind == "" {
			return nil
		}
		rel, _ := filepath.Rel(root, filepath.Dir(path))
		if rel == "." {
			rel = "(top-level)"
		}
		ds, ok := byDir[rel]
		if !ok {
			ds = &DirStats{Dir: rel}
			byDir[rel] = ds
			order = append(order, rel)
		}
		if kind == models.KindVideo {
			ds.Videos++
			stats.Videos++
		} else {
			ds.Images++
			stats.Images++
		}
		return nil
	})
	for _, dir := range order {
		stats.Subdirs = append(stats.Subdirs, *byDir[dir])
	}
	sort.SliceStable(stats.Subdirs, func(i, j int) bool {
		return stats.Subdirs[i].Total() > stats.Subdirs[j].Total()
	})
	return stats, err
}
