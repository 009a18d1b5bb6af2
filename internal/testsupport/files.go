package testsupport

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"vqaexplain/internal/config"
	"vqaexplain/internal/textutil"
)

// Image returns a w x h test image: a horizontal gradient with a solid
// block in the upper-left quarter.
func Image(w, h int, block color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / max(w-1, 1))
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			img.SetRGBA(x, y, block)
		}
	}
	return img
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(t testing.TB, path string, img image.Image) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WriteProtocolImage stores a PNG-encoded test image where the protocol
// runner expects imageName. The filename extension does not need to be .png;
// decoders sniff the format.
func WriteProtocolImage(t testing.TB, cfg *config.Config, imageName string) string {
	t.Helper()

	path := filepath.Join(cfg.ImagesDir(), textutil.ImageStem(imageName), imageName)
	WritePNG(t, path, Image(32, 24, color.RGBA{R: 220, G: 30, B: 30, A: 255}))
	return path
}

// WriteProtocol writes the protocol file named by cfg.
func WriteProtocol(t testing.TB, cfg *config.Config, content string) {
	t.Helper()

	path := cfg.ProtocolPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// DecodePNG reads a PNG file written by the runner.
func DecodePNG(t testing.TB, path string) image.Image {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}
