package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamps 结构体嵌入到其他模型中，用于追踪创建和更新时间。
type Timestamps struct {
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// MediaKind 区分图片与视频，两者进入不同的目标目录树。
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// HashChannel 是感知哈希的通道名。
type HashChannel string

const (
	ChannelDHash HashChannel = "dhash"
	ChannelPHash HashChannel = "phash"
	ChannelAHash HashChannel = "ahash"
	ChannelWHash HashChannel = "whash"
	ChannelCHash HashChannel = "chash"
)

// Channels 列出所有受支持的哈希通道，顺序固定。
var Channels = []HashChannel{ChannelDHash, ChannelPHash, ChannelAHash, ChannelWHash, ChannelCHash}

// ParseChannel 把字符串转换为受支持的哈希通道。
func ParseChannel(s string) (HashChannel, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ch := range Channels {
		if string(ch) == s {
			return ch, true
		}
	}
	return "", false
}

// 去重方法标签。MethodNone 表示记录未经过任何聚类，默认即为代表。
const (
	MethodNone     = "none"
	MethodTwoPhase = "dhash_phash"
)

// VideoInfo 是视频文件的可选元数据。
type VideoInfo struct {
	Fingerprint string  `bson:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	Width       int     `bson:"width,omitempty" json:"width,omitempty"`
	Height      int     `bson:"height,omitempty" json:"height,omitempty"`
	Resolution  string  `bson:"resolution,omitempty" json:"resolution,omitempty"`
	FPS         float64 `bson:"fps,omitempty" json:"fps,omitempty"`
	Duration    float64 `bson:"duration,omitempty" json:"duration,omitempty"`
}

// HumanInfo 是外部人物检测的结果。
type HumanInfo struct {
	HasHuman bool    `bson:"hasHuman" json:"hasHuman"`
	Score    float64 `bson:"score,omitempty" json:"score,omitempty"`
	Count    int     `bson:"count,omitempty" json:"count,omitempty"`
}

// MediaRecord 是一个被扫描过的媒体文件，对应 MongoDB 中某个数据集集合的一个文档。
type MediaRecord struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`

	// Path 是文件的绝对路径，在同一数据集内唯一。
	Path      string    `bson:"filePath" json:"filePath"`
	FileName  string    `bson:"fileName" json:"fileName"`
	Directory string    `bson:"fileDirectory" json:"fileDirectory"`
	Kind      MediaKind `bson:"fileType" json:"fileType"`
	Extension string    `bson:"extension" json:"extension"`
	Size      int64     `bson:"fileSize" json:"fileSize"`
	ModTime   time.Time `bson:"modTime" json:"modTime"`

	// ContentDigest 是 BLAKE2b-512 内容摘要，在同一数据集内唯一。
	ContentDigest string `bson:"contentDigest" json:"contentDigest"`
	MD5           string `bson:"md5,omitempty" json:"md5,omitempty"`
	SHA256        string `bson:"sha256,omitempty" json:"sha256,omitempty"`
	SHA512        string `bson:"sha512,omitempty" json:"sha512,omitempty"`

	Hashes map[HashChannel]string `bson:"hashes,omitempty" json:"hashes,omitempty"`
	Video  *VideoInfo             `bson:"video,omitempty" json:"video,omitempty"`
	Human  HumanInfo              `bson:"human" json:"human"`

	IsRepresentative bool   `bson:"isRepresentative" json:"isRepresentative"`
	DedupeMethod     string `bson:"dedupeMethod,omitempty" json:"dedupeMethod,omitempty"`
	DedupePhase1     string `bson:"dedupePhase1,omitempty" json:"dedupePhase1,omitempty"`
	DedupePhase2     string `bson:"dedupePhase2,omitempty" json:"dedupePhase2,omitempty"`

	Timestamps `bson:",inline"`
}

// Hash 返回指定通道的哈希值，空白值视为缺失。
func (r *MediaRecord) Hash(ch HashChannel) string {
	if r.Hashes == nil {
		return ""
	}
	return strings.TrimSpace(r.Hashes[ch])
}

// HashIndexEntry 是目标目录树中一个文件的内容寻址索引项。
type HashIndexEntry struct {
	Path     string    `json:"path"`
	Digest   string    `json:"digest"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`
	Priority int       `json:"priority"`
}

// ProgressState 是断点文件的内容。
type ProgressState struct {
	Timestamp      string   `json:"timestamp"`
	ProcessedFiles []string `json:"processed_files"`
}
