package visual

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/orisano/pixelmatch"
)

var outsideColor = color.NRGBA{R: 255, A: 255}

// Diff counts the pixels of a and b whose colour delta exceeds threshold
// (0 to 1) and renders a difference image. Images of different sizes are
// compared over their overlap, and every pixel of the union outside it
// counts as different
func Diff(a, b image.Image, threshold float64) (int, *image.NRGBA, error) {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := max(ab.Dx(), bb.Dx()), max(ab.Dy(), bb.Dy())
	ow, oh := min(ab.Dx(), bb.Dx()), min(ab.Dy(), bb.Dy())
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	count := 0
	if ow > 0 && oh > 0 {
		ca, cb := crop(a, ow, oh), crop(b, ow, oh)
		var diffImg image.Image
		n, err := pixelmatch.MatchPixel(ca, cb,
			pixelmatch.Threshold(threshold),
			pixelmatch.WriteTo(&diffImg),
		)
		if err != nil {
			return 0, nil, err
		}
		count = n
		if diffImg == nil {
			diffImg = ca
		}
		draw.Draw(out, image.Rect(0, 0, ow, oh), diffImg, image.Point{}, draw.Src)
	}

	for y := range h {
		for x := range w {
			if x >= ow || y >= oh {
				out.SetNRGBA(x, y, outsideColor)
				count++
			}
		}
	}
	return count, out, nil
}

// crop returns the top-left w by h region of img rebased to the origin
func crop(img image.Image, w, h int) image.Image {
	r := image.Rect(0, 0, w, h)
	if img.Bounds() == r {
		return img
	}
	res := image.NewNRGBA(r)
	draw.Draw(res, r, img, img.Bounds().Min, draw.Src)
	return res
}
