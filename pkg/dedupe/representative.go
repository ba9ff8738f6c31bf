package dedupe

import (
	"MediaMerger/internal/models"
	"regexp"
	"time"
)

var (
	// Instagram 风格的 "_shortcode-xxx_" 片段
	instaToken = regexp.MustCompile(`_[\p{L}\p{N}_]+-[\p{L}\p{N}_]+_`)
	// "(1)" 之类的副本标记
	copyMarker = regexp.MustCompile(`\(\p{Nd}+\)`)
)

// Score 是代表选择的打分元组，按字段顺序比较，越大越好。
type Score struct {
	InstaToken bool
	NoCopyMark bool
	Size       int64
	Timestamp  time.Time
}

// ScoreOf 计算记录的打分。缺失的时间戳是零值，比任何真实时间都小。
func ScoreOf(r *models.MediaRecord) Score {
	return Score{
		InstaToken: instaToken.MatchString(r.FileName),
		NoCopyMark: !copyMarker.MatchString(r.FileName),
		Size:       r.Size,
		Timestamp:  r.ModTime,
	}
}

// Less 判断 s 是否严格劣于 o。
func (s Score) Less(o Score) bool {
	if s.InstaToken != o.InstaToken {
		return !s.InstaToken
	}
	if s.NoCopyMark != o.NoCopyMark {
		return !s.NoCopyMark
	}
	if s.Size != o.Size {
		return s.Size < o.Size
	}
	return s.Timestamp.Before(o.Timestamp)
}

// PickRepresentative 返回簇中得分最高者的下标；并列时先出现者胜出。空簇返回 -1。
func PickRepresentative(cluster []models.MediaRecord) int {
	if len(cluster) == 0 {
		return -1
	}
	best := 0
	bestScore := ScoreOf(&cluster[0])
	for i := 1; i < len(cluster); i++ {
		s := ScoreOf(&cluster[i])
		if bestScore.Less(s) {
			best, bestScore = i, s
		}
	}
	return best
}

// MarkRepresentatives 原地标记代表：胜出者为 true，其余为 false，并写入方法标签。
func MarkRepresentatives(cluster []models.MediaRecord, method string) {
	rep := PickRepresentative(cluster)
	for i := range cluster {
		cluster[i].IsRepresentative = i == rep
		cluster[i].DedupeMethod = method
	}
}
