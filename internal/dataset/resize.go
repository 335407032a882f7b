package dataset

import (
	"image"

	"golang.org/x/image/draw"
)

// Stage-2 super-resolution models consume low resolution inputs; validation
// samples are shrunk so the short edge is 64px before embedding precompute.
const stage2ShortEdge = 64

// ResizeForStage2 shrinks the sample so its short edge is 64px, keeping
// aspect ratio. Images already at or below that size pass through.
func ResizeForStage2(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	short := w
	if h < short {
		short = h
	}
	if short <= stage2ShortEdge {
		return img
	}

	scale := float64(stage2ShortEdge) / float64(short)
	return scaleImage(img, int(float64(w)*scale), int(float64(h)*scale))
}

// ResizeForCondition scales the conditioning image so its larger edge matches
// resolution, then rounds both edges down to a multiple of 64 to satisfy the
// VAE.
func ResizeForCondition(img image.Image, resolution int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var newW, newH int
	if w > h {
		newW = resolution
		newH = int(float64(h) * float64(resolution) / float64(w))
	} else {
		newH = resolution
		newW = int(float64(w) * float64(resolution) / float64(h))
	}

	newW -= newW % 64
	newH -= newH % 64
	if newW == 0 {
		newW = 64
	}
	if newH == 0 {
		newH = 64
	}
	return scaleImage(img, newW, newH)
}

func scaleImage(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
