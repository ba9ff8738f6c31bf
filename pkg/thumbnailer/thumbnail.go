package thumbnailer

import (
	"MediaMerger/pkg/hasher"
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// CreateBase64 生成 JPEG 缩略图的 data URL。
func CreateBase64(srcImage image.Image, width, height int) (string, error) {
	thumbImage := imaging.Thumbnail(srcImage, width, height, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, thumbImage, &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CreateBase64FromFile 按 EXIF 方向解码图片文件后生成缩略图。
func CreateBase64FromFile(path string, width, height int) (string, error) {
	img, err := hasher.DecodeImage(path)
	if err != nil {
		return "", err
	}
	return CreateBase64(img, width, height)
}
