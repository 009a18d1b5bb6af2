// Package render draws the per-analysis review image: the model input next
// to the saliency heatmap blended over it, under a caption naming the
// method, analysis type and prediction.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/saliency"
)

const (
	gap        = 8
	lineHeight = 16
	padding    = 4
	overlay    = 0.5
)

// Metadata captions a comparison image.
type Metadata struct {
	Model        string
	Method       string
	AnalysisType string
	Question     string
	Answer       string
	Predicted    string
	Probability  float64
}

func (m Metadata) lines() []string {
	return []string{
		fmt.Sprintf("%s | %s | %s", m.Model, m.Method, m.AnalysisType),
		"Q: " + m.Question,
		fmt.Sprintf("GT: %s   pred: %s (%.3f)", m.Answer, m.Predicted, m.Probability),
	}
}

// Comparison renders input and sal side by side with a caption.
func Comparison(input image.Image, sal saliency.Map, meta Metadata) (image.Image, error) {
	if input == nil {
		return nil, fmt.Errorf("render: nil input image")
	}
	if !sal.Valid() {
		return nil, fmt.Errorf("render: invalid saliency map %dx%d with %d values", sal.Width, sal.Height, len(sal.Values))
	}
	src := imageio.ToRGBA(input)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	lines := meta.lines()
	header := len(lines)*lineHeight + 2*padding
	out := image.NewRGBA(image.Rect(0, 0, 2*w+gap, header+h))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	draw.Draw(out, image.Rect(0, header, w, header+h), src, image.Point{}, draw.Src)
	heat := Heatmap(src, sal)
	draw.Draw(out, image.Rect(w+gap, header, 2*w+gap, header+h), heat, image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: out, Src: image.Black, Face: basicfont.Face7x13}
	maxChars := max((out.Bounds().Dx()-2*padding)/basicfont.Face7x13.Advance, 1)
	for i, line := range lines {
		drawer.Dot = fixed.P(padding, padding+(i+1)*lineHeight-4)
		drawer.DrawString(truncate(line, maxChars))
	}
	return out, nil
}

// Heatmap upsamples sal to the size of img with bilinear interpolation,
// colours it with the jet palette and blends it over img.
func Heatmap(img *image.RGBA, sal saliency.Map) *image.RGBA {
	norm := sal.Normalized()
	grid := image.NewGray(image.Rect(0, 0, norm.Width, norm.Height))
	for y := 0; y < norm.Height; y++ {
		for x := 0; x < norm.Width; x++ {
			grid.SetGray(x, y, color.Gray{Y: uint8(math.Round(norm.At(x, y) * 255))})
		}
	}
	b := img.Bounds()
	scaled := image.NewGray(b)
	draw.BiLinear.Scale(scaled, b, grid, grid.Bounds(), draw.Src, nil)

	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			base := img.RGBAAt(x, y)
			hot := Jet(float64(scaled.GrayAt(x, y).Y) / 255)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(base.R, hot.R),
				G: blend(base.G, hot.G),
				B: blend(base.B, hot.B),
				A: 255,
			})
		}
	}
	return out
}

// Jet maps v in [0, 1] to the jet colour palette (blue, cyan, yellow, red).
func Jet(v float64) color.RGBA {
	v = math.Max(0, math.Min(1, v))
	channel := func(offset float64) uint8 {
		c := 1.5 - math.Abs(4*v-offset)
		return uint8(math.Round(255 * math.Max(0, math.Min(1, c))))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}

func blend(a, b uint8) uint8 {
	return uint8(math.Round(float64(a)*(1-overlay) + float64(b)*overlay))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
