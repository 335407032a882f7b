package validation

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const separatorWidth = 5

var (
	white     = color.RGBA{255, 255, 255, 255}
	lightGray = color.RGBA{200, 200, 200, 255}
	black     = color.RGBA{0, 0, 0, 255}
)

// StitchBenchmark places the frozen base model sample and the current
// checkpoint sample side by side on a white canvas, separated by a light
// gray bar and labeled. Canvas width is the sum of both widths plus the
// separator; height is the taller of the two.
func StitchBenchmark(base, checkpoint image.Image) image.Image {
	baseBounds, checkBounds := base.Bounds(), checkpoint.Bounds()

	width := baseBounds.Dx() + separatorWidth + checkBounds.Dx()
	height := baseBounds.Dy()
	if checkBounds.Dy() > height {
		height = checkBounds.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)

	draw.Draw(canvas, image.Rect(0, 0, baseBounds.Dx(), baseBounds.Dy()), base, baseBounds.Min, draw.Src)

	sepRect := image.Rect(baseBounds.Dx(), 0, baseBounds.Dx()+separatorWidth, height)
	draw.Draw(canvas, sepRect, image.NewUniform(lightGray), image.Point{}, draw.Src)

	checkX := baseBounds.Dx() + separatorWidth
	draw.Draw(canvas, image.Rect(checkX, 0, checkX+checkBounds.Dx(), checkBounds.Dy()), checkpoint, checkBounds.Min, draw.Src)

	drawLabel(canvas, "base model", 10, 20)
	drawLabel(canvas, "checkpoint", checkX+10, 20)

	return canvas
}

// StitchConditioning places the conditioning input and the generated sample
// side by side with no separator or labels.
func StitchConditioning(conditioning, sample image.Image) image.Image {
	condBounds, sampleBounds := conditioning.Bounds(), sample.Bounds()

	width := condBounds.Dx() + sampleBounds.Dx()
	height := condBounds.Dy()
	if sampleBounds.Dy() > height {
		height = sampleBounds.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 0, condBounds.Dx(), condBounds.Dy()), conditioning, condBounds.Min, draw.Src)
	draw.Draw(canvas, image.Rect(condBounds.Dx(), 0, width, sampleBounds.Dy()), sample, sampleBounds.Min, draw.Src)

	return canvas
}

func drawLabel(canvas *image.RGBA, text string, x, y int) {
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

// MeanLuminance is the average ITU-R BT.601 luma of the image, in [0, 255].
func MeanLuminance(img image.Image) float64 {
	bounds := img.Bounds()
	total := 0.0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			total += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	pixels := bounds.Dx() * bounds.Dy()
	if pixels == 0 {
		return 0
	}
	return total / float64(pixels)
}
