// Package imaging はページ画像から固定サイズの派生画像を生成します。
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Box は派生画像の上限サイズです。
type Box struct {
	Width  int
	Height int
}

var (
	ThumbnailBox = Box{Width: 200, Height: 283}
	MobileBox    = Box{Width: 828, Height: 1170}
	PreviewBox   = Box{Width: 600, Height: 848}
)

// JPEG品質（サムネイル85、モバイル・プレビュー90）
const (
	ThumbnailQuality = 85
	MobileQuality    = 90
	PreviewQuality   = 90
)

// AssetError は入力画像が不正な場合のエラーです。
type AssetError struct {
	Op  string
	Err error
}

func (e *AssetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("imaging %s: invalid image", e.Op)
	}
	return fmt.Sprintf("imaging %s: %v", e.Op, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// Thumbnail は一覧用サムネイル（200x283以内）を生成します。
func Thumbnail(src image.Image) (image.Image, error) {
	return fit("thumbnail", src, ThumbnailBox)
}

// Mobile はモバイル表示用画像（828x1170以内）を生成します。
func Mobile(src image.Image) (image.Image, error) {
	return fit("mobile", src, MobileBox)
}

// Preview は号の一覧表示用プレビュー（600x848以内）を生成します。
func Preview(src image.Image) (image.Image, error) {
	return fit("preview", src, PreviewBox)
}

// FitSize は src を box に収める縦横比維持のサイズを返します。拡大はしません。
func FitSize(w, h int, box Box) (int, int) {
	if w <= box.Width && h <= box.Height {
		return w, h
	}
	scale := math.Min(float64(box.Width)/float64(w), float64(box.Height)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	nw = clamp(nw, 1, box.Width)
	nh = clamp(nh, 1, box.Height)
	return nw, nh
}

func fit(op string, src image.Image, box Box) (image.Image, error) {
	if src == nil {
		return nil, &AssetError{Op: op}
	}
	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &AssetError{Op: op, Err: fmt.Errorf("empty bounds %v", bounds)}
	}

	w, h := FitSize(bounds.Dx(), bounds.Dy(), box)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
		return dst, nil
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst, nil
}

// EncodeJPEG は画像をJPEGにエンコードします。
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &AssetError{Op: "encode jpeg", Err: err}
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
