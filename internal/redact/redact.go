// Package redact obscures detected face regions of a frame in place.
package redact

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/andresmejia3/anonymizer/internal/types"
)

// Style selects how a face region is obscured.
type Style string

const (
	// StyleBlur replaces the region with a box blur (mean filter) of itself.
	StyleBlur Style = "blur"
	// StylePixel fills square blocks with their top-left colour.
	StylePixel Style = "pixel"
	// StyleBlack paints the region opaque black.
	StyleBlack Style = "black"
	// StyleSecure fills the region with the average colour of its border.
	StyleSecure Style = "secure"
)

// Styles lists every supported style, default first.
var Styles = []Style{StyleBlur, StylePixel, StyleBlack, StyleSecure}

// ParseStyle validates a user supplied style name.
func ParseStyle(s string) (Style, error) {
	for _, st := range Styles {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid style '%s'. Must be one of: blur, pixel, black, secure", s)
}

// Options controls a redaction pass.
type Options struct {
	Style Style
	// Strength is the kernel side for StyleBlur and the block size for StylePixel.
	Strength int
}

// PixelRect maps a normalized detection onto absolute pixel coordinates of a width x height frame.
// The result is not clipped and may lie partly or fully outside the frame.
func PixelRect(d types.Detection, width, height int) image.Rectangle {
	x1 := int(math.Round(d.X * float64(width)))
	y1 := int(math.Round(d.Y * float64(height)))
	w := int(math.Round(d.Width * float64(width)))
	h := int(math.Round(d.Height * float64(height)))
	// Not image.Rect: a negative size must stay empty instead of being flipped.
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x1+w, y1+h)}
}

// Apply redacts every detection on img and returns how many regions were modified.
// Boxes reaching outside the frame are clamped to it; boxes with no overlap are skipped.
func Apply(img *image.RGBA, dets []types.Detection, opts Options) int {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	applied := 0
	for _, d := range dets {
		rect := PixelRect(d, b.Dx(), b.Dy()).Add(b.Min)
		if Region(img, rect, opts) {
			applied++
		}
	}
	return applied
}

// Region redacts a single pixel rectangle. It reports false when the rectangle
// does not overlap the image.
func Region(img *image.RGBA, rect image.Rectangle, opts Options) bool {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return false
	}

	switch opts.Style {
	case StyleBlack:
		fill(img, rect, 0, 0, 0)
	case StyleSecure:
		r, g, b := borderAverage(img, rect)
		fill(img, rect, r, g, b)
	case StylePixel:
		pixelate(img, rect, opts.Strength)
	default:
		BoxBlur(img, rect, opts.Strength)
	}
	return true
}

// rowSumsPool recycles the horizontal pass accumulators of BoxBlur.
var rowSumsPool = sync.Pool{
	New: func() interface{} { return make([]uint32, 0, 1024*1024) },
}

// colSumsPool recycles column accumulators for the vertical pass.
var colSumsPool = sync.Pool{
	New: func() interface{} { return make([]uint64, 0, 1024) },
}

// BoxBlur replaces rect with the k x k mean filter of the same rectangle.
// Only pixels inside rect are read: taps that fall outside are mirrored back
// (reflect-101, edge pixel not repeated). For even k the window spans k/2
// pixels before the centre and k/2-1 after it. Alpha is left untouched.
func BoxBlur(img *image.RGBA, rect image.Rectangle, k int) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() || k <= 1 {
		return
	}

	w, h := rect.Dx(), rect.Dy()
	before := k / 2
	after := k - before - 1
	area := uint64(k) * uint64(k)

	stride := img.Stride
	pix := img.Pix
	base := img.PixOffset(rect.Min.X, rect.Min.Y)

	// 1. Horizontal Pass: window sums per row, Image -> Buffer
	needed := w * h * 3
	bufPtr := rowSumsPool.Get().([]uint32)
	if cap(bufPtr) < needed {
		bufPtr = make([]uint32, needed)
	}
	buf := bufPtr[:needed]
	defer rowSumsPool.Put(bufPtr)

	for y := 0; y < h; y++ {
		row := base + y*stride
		out := buf[y*w*3 : (y+1)*w*3]

		var rSum, gSum, bSum uint32
		for t := -before; t <= after; t++ {
			off := row + reflect101(t, w)*4
			rSum += uint32(pix[off])
			gSum += uint32(pix[off+1])
			bSum += uint32(pix[off+2])
		}

		for x := 0; x < w; x++ {
			out[x*3] = rSum
			out[x*3+1] = gSum
			out[x*3+2] = bSum

			// Slide Window: Subtract leaving tap, Add entering tap
			offRemove := row + reflect101(x-before, w)*4
			offAdd := row + reflect101(x+after+1, w)*4
			rSum = rSum - uint32(pix[offRemove]) + uint32(pix[offAdd])
			gSum = gSum - uint32(pix[offRemove+1]) + uint32(pix[offAdd+1])
			bSum = bSum - uint32(pix[offRemove+2]) + uint32(pix[offAdd+2])
		}
	}

	// 2. Vertical Pass: Buffer -> Image, row by row with running sums per column
	neededCols := w * 3
	csPtr := colSumsPool.Get().([]uint64)
	if cap(csPtr) < neededCols {
		csPtr = make([]uint64, neededCols)
	}
	colSums := csPtr[:neededCols]
	for i := range colSums {
		colSums[i] = 0
	}
	defer colSumsPool.Put(csPtr)

	for t := -before; t <= after; t++ {
		src := buf[reflect101(t, h)*w*3:]
		for i := 0; i < neededCols; i++ {
			colSums[i] += uint64(src[i])
		}
	}

	half := area / 2
	for y := 0; y < h; y++ {
		dst := base + y*stride
		remove := buf[reflect101(y-before, h)*w*3:]
		add := buf[reflect101(y+after+1, h)*w*3:]

		for x := 0; x < w; x++ {
			off := dst + x*4
			i := x * 3
			pix[off] = uint8((colSums[i] + half) / area)
			pix[off+1] = uint8((colSums[i+1] + half) / area)
			pix[off+2] = uint8((colSums[i+2] + half) / area)

			colSums[i] = colSums[i] - uint64(remove[i]) + uint64(add[i])
			colSums[i+1] = colSums[i+1] - uint64(remove[i+1]) + uint64(add[i+1])
			colSums[i+2] = colSums[i+2] - uint64(remove[i+2]) + uint64(add[i+2])
		}
	}
}

// reflect101 maps an out-of-range tap back into [0,n) mirroring around the
// edge pixels: -1 -> 1, n -> n-2.
func reflect101(p, n int) int {
	if p >= 0 && p < n {
		return p
	}
	if n == 1 {
		return 0
	}
	period := 2*n - 2
	p %= period
	if p < 0 {
		p += period
	}
	if p >= n {
		p = period - p
	}
	return p
}

func fill(img *image.RGBA, rect image.Rectangle, r, g, b uint8) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := img.PixOffset(rect.Min.X, y)
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 255
		}
	}
}

// borderAverage samples the ring of pixels just outside rect.
func borderAverage(img *image.RGBA, rect image.Rectangle) (uint8, uint8, uint8) {
	var r, g, b, count uint64
	bounds := img.Bounds()
	sample := func(x, y int) {
		if !(image.Point{X: x, Y: y}).In(bounds) {
			return
		}
		off := img.PixOffset(x, y)
		r += uint64(img.Pix[off])
		g += uint64(img.Pix[off+1])
		b += uint64(img.Pix[off+2])
		count++
	}

	for x := rect.Min.X; x < rect.Max.X; x++ {
		sample(x, rect.Min.Y-1) // Top
		sample(x, rect.Max.Y)   // Bottom
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		sample(rect.Min.X-1, y) // Left
		sample(rect.Max.X, y)   // Right
	}

	if count == 0 {
		return 0, 0, 0
	}
	return uint8(r / count), uint8(g / count), uint8(b / count)
}

func pixelate(img *image.RGBA, rect image.Rectangle, blockSize int) {
	if blockSize < 1 {
		blockSize = 1
	}
	pix := img.Pix

	for y := rect.Min.Y; y < rect.Max.Y; y += blockSize {
		for x := rect.Min.X; x < rect.Max.X; x += blockSize {
			srcOff := img.PixOffset(x, y)
			r, g, b, a := pix[srcOff], pix[srcOff+1], pix[srcOff+2], pix[srcOff+3]

			x2 := min(x+blockSize, rect.Max.X)
			y2 := min(y+blockSize, rect.Max.Y)

			for by := y; by < y2; by++ {
				rowStart := img.PixOffset(x, by)
				for bx := 0; bx < x2-x; bx++ {
					dstOff := rowStart + bx*4
					pix[dstOff] = r
					pix[dstOff+1] = g
					pix[dstOff+2] = b
					pix[dstOff+3] = a
				}
			}
		}
	}
}
