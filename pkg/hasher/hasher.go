package hasher

import (
	"MediaMerger/internal/models"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"image"
	// 匿名导入 (blank import) image解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajdnik/imghash"
	"github.com/ajdnik/imghash/hashtype"
	"github.com/disintegration/imaging"
	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// chunkSize 是流式读取文件时的缓冲区大小。
const chunkSize = 64 * 1024

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
	".tiff": {}, ".webp": {}, ".heic": {}, ".heif": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".wmv": {}, ".mkv": {}, ".flv": {},
	".webm": {}, ".m4v": {}, ".3gp": {}, ".mpg": {}, ".mpeg": {},
}

// KindOf 根据扩展名（不区分大小写）判断媒体类型，不支持的扩展名返回空字符串。
func KindOf(path string) models.MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageExtensions[ext]; ok {
		return models.KindImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return models.KindVideo
	}
	return ""
}

// IsMedia 判断文件是否为受支持的图片或视频。
func IsMedia(path string) bool {
	return KindOf(path) != ""
}

// ContentDigest 计算文件的 BLAKE2b-512 内容摘要（十六进制）。
// 文件按块流式读取，不会整体载入内存。
func ContentDigest(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return ContentDigestReader(file)
}

// ContentDigestReader 从 r 中计算内容摘要。
func ContentDigestReader(r io.Reader) (string, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigests 是一次读取中得到的全部密码学摘要。
type FileDigests struct {
	Content string
	MD5     string
	SHA256  string
	SHA512  string
}

// CalculateDigests 只读取文件一次，同时计算内容摘要与 md5/sha256/sha512。
func CalculateDigests(filePath string) (FileDigests, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return FileDigests{}, err
	}
	defer file.Close()

	content, err := blake2b.New512(nil)
	if err != nil {
		return FileDigests{}, err
	}
	hashes := []hash.Hash{content, md5.New(), sha256.New(), sha512.New()}
	writers := make([]io.Writer, len(hashes))
	for i, h := range hashes {
		writers[i] = h
	}
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), file, buf); err != nil {
		return FileDigests{}, err
	}
	return FileDigests{
		Content: hex.EncodeToString(hashes[0].Sum(nil)),
		MD5:     hex.EncodeToString(hashes[1].Sum(nil)),
		SHA256:  hex.EncodeToString(hashes[2].Sum(nil)),
		SHA512:  hex.EncodeToString(hashes[3].Sum(nil)),
	}, nil
}

// DecodeImage 解码图片并按 EXIF 方向旋转，保证同一张照片的不同副本得到相同的感知哈希。
func DecodeImage(filePath string) (image.Image, error) {
	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("解码图片 %s 失败: %w", filePath, err)
	}
	return img, nil
}

// hexHash 把二进制哈希格式化为十六进制字符串，8 字节的哈希固定为 16 个字符。
func hexHash(h hashtype.Binary) string {
	return hex.EncodeToString([]byte(h))
}

// PerceptualHashes 从已解码的图片计算 dhash、phash 与 ahash 三个通道。
func PerceptualHashes(img image.Image) map[models.HashChannel]string {
	dhasher := imghash.NewDifference()
	phasher := imghash.NewPHash()
	ahasher := imghash.NewAverage()
	return map[models.HashChannel]string{
		models.ChannelDHash: hexHash(dhasher.Calculate(img)),
		models.ChannelPHash: hexHash(phasher.Calculate(img)),
		models.ChannelAHash: hexHash(ahasher.Calculate(img)),
	}
}
