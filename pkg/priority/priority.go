// Package priority 根据文件名给媒体文件打分，数值越小优先级越高。
package priority

import (
	"path/filepath"
	"regexp"
)

// 字符类按 Unicode 匹配，非 ASCII 文件名与 ASCII 文件名同样对待。
const (
	digit = `\p{Nd}`
	word  = `[\p{L}\p{N}_]`
	stamp = digit + `{8}_` + digit + `{6}_` + word + `+`
)

var (
	// 20231009_154612_C1x2Yz3AbC.jpg
	exactPattern = regexp.MustCompile(`^` + stamp + `\.` + word + `+$`)
	// 20231009_154612_C1x2Yz3AbC 开头
	prefixPattern = regexp.MustCompile(`^` + stamp)
	// xxx_20231009_154612_C1x2Yz3AbC_1.jpg
	numberedPattern = regexp.MustCompile(`^.*` + stamp + `_` + digit + `+\.` + word + `+$`)
	// 以 "(1).jpg" 之类结尾的副本
	copyPattern = regexp.MustCompile(`\(` + digit + `+\)\.` + word + `+$`)
)

const (
	Highest = 1
	Lowest  = 5
)

// Of 返回文件名的优先级（1 到 5），按规则顺序第一个命中的规则决定结果。
func Of(filename string) int {
	switch {
	case exactPattern.MatchString(filename):
		return 1
	case prefixPattern.MatchString(filename):
		return 2
	case numberedPattern.MatchString(filename):
		return 3
	case !copyPattern.MatchString(filename):
		return 4
	default:
		return 5
	}
}

// OfPath 对路径的文件名部分打分。
func OfPath(path string) int {
	return Of(filepath.Base(path))
}

// Better 判断 a 是否严格优于 b。
func Better(a, b int) bool {
	return a < b
}
