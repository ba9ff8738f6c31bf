package config

import (
	"time"

	"github.com/spf13/viper"
)

// MergerConfig 描述合并任务的来源、目标与断点续传设置。
type MergerConfig struct {
	Sources          []string `mapstructure:"sources" yaml:"sources" json:"sources"`
	ImageDestination string   `mapstructure:"imageDestination" yaml:"imageDestination" json:"imageDestination"`
	VideoDestination string   `mapstructure:"videoDestination" yaml:"videoDestination" json:"videoDestination"`
	WorkerCount      int      `mapstructure:"workerCount" yaml:"workerCount" json:"workerCount"`
	CheckpointPath   string   `mapstructure:"checkpointPath" yaml:"checkpointPath" json:"checkpointPath"`
	CheckpointEvery  int      `mapstructure:"checkpointEvery" yaml:"checkpointEvery" json:"checkpointEvery"`
	IndexPath        string   `mapstructure:"indexPath" yaml:"indexPath" json:"indexPath"`
	Resume           bool     `mapstructure:"resume" yaml:"resume" json:"resume"`
	RebuildIndex     bool     `mapstructure:"rebuildIndex" yaml:"rebuildIndex" json:"rebuildIndex"`
	// Resolver 取值 "index" 或 "scan"
	Resolver       string `mapstructure:"resolver" yaml:"resolver" json:"resolver"`
	DirectoryDepth int    `mapstructure:"directoryDepth" yaml:"directoryDepth" json:"directoryDepth"`
	HumanOnly      bool   `mapstructure:"humanOnly" yaml:"humanOnly" json:"humanOnly"`
}

// DeduperConfig 描述去重任务使用的数据集与阈值。
type DeduperConfig struct {
	SourceScope    string `mapstructure:"sourceScope" yaml:"sourceScope" json:"sourceScope"`
	Channel        string `mapstructure:"channel" yaml:"channel" json:"channel"`
	PHashThreshold int    `mapstructure:"phashThreshold" yaml:"phashThreshold" json:"phashThreshold"`
	DHashThreshold int    `mapstructure:"dhashThreshold" yaml:"dhashThreshold" json:"dhashThreshold"`
}

type ScannerConfig struct {
	Roots               []string `mapstructure:"roots" yaml:"roots" json:"roots"`
	Scope               string   `mapstructure:"scope" yaml:"scope" json:"scope"`
	WorkerCount         int      `mapstructure:"workerCount" yaml:"workerCount" json:"workerCount"`
	ExcludeFilePatterns []string `mapstructure:"excludeFilePatterns" yaml:"excludeFilePatterns" json:"excludeFilePatterns"`
	ExcludeDirPatterns  []string `mapstructure:"excludeDirPatterns" yaml:"excludeDirPatterns" json:"excludeDirPatterns"`
	BackupPath          string   `mapstructure:"backupPath" yaml:"backupPath" json:"backupPath"`
}

type Config struct {
	Server struct {
		Port    string        `mapstructure:"port" yaml:"port" json:"port"`
		Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	} `mapstructure:"server" yaml:"server" json:"server"`

	Database struct {
		URI  string `mapstructure:"uri" yaml:"uri" json:"uri"`
		Name string `mapstructure:"name" yaml:"name" json:"name"`
	} `mapstructure:"database" yaml:"database" json:"database"`

	Logger struct {
		Level  string `mapstructure:"level" yaml:"level" json:"level"`
		Format string `mapstructure:"format" yaml:"format" json:"format"`
		Path   string `mapstructure:"path" yaml:"path" json:"path"`
	} `mapstructure:"logger" yaml:"logger" json:"logger"`

	Merger  MergerConfig  `mapstructure:"merger" yaml:"merger" json:"merger"`
	Deduper DeduperConfig `mapstructure:"deduper" yaml:"deduper" json:"deduper"`
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner" json:"scanner"`
}

var C *Config

// LoadConfig 从 path 目录读取 config.yaml，未设置的字段使用默认值。
func LoadConfig(path string) (err error) {
	v := newViper()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		return
	}

	err = v.Unmarshal(&C)
	return
}

// Default 返回只包含默认值的配置，供测试和没有配置文件的场景使用。
func Default() *Config {
	var cfg Config
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "media_merger")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.path", "./logs")

	v.SetDefault("merger.workerCount", 0)
	v.SetDefault("merger.checkpointPath", "./merge_progress.json")
	v.SetDefault("merger.checkpointEvery", 50)
	v.SetDefault("merger.indexPath", "./hash_index.db")
	v.SetDefault("merger.resume", true)
	v.SetDefault("merger.resolver", "index")

	v.SetDefault("deduper.sourceScope", "tbl_scanner")
	v.SetDefault("deduper.channel", "phash")
	v.SetDefault("deduper.phashThreshold", 3)
	v.SetDefault("deduper.dhashThreshold", 5)

	v.SetDefault("scanner.scope", "tbl_scanner")
	v.SetDefault("scanner.excludeFilePatterns", []string{"Thumbs.db", "*.tmp", ".*", "~*.*", "._*"})
	v.SetDefault("scanner.excludeDirPatterns", []string{"$Recycle.Bin", ".recycle", ".*"})
	v.SetDefault("scanner.backupPath", "./backup")
	return v
}
