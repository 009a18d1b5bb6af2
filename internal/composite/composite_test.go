package composite

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"vqaexplain/internal/logging"
	"vqaexplain/internal/services"
	"vqaexplain/internal/testsupport"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var (
	red    = color.RGBA{R: 255, A: 255}
	green  = color.RGBA{G: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
)

func rgbaAt(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func TestCombineStacksInIndexOrder(t *testing.T) {
	dir := t.TempDir()
	// Written out of order on purpose.
	testsupport.WritePNG(t, filepath.Join(dir, "3_textualnoise.png"), solid(4, 2, yellow))
	testsupport.WritePNG(t, filepath.Join(dir, "1_or.png"), solid(4, 2, green))
	testsupport.WritePNG(t, filepath.Join(dir, "2_visualnoise.png"), solid(4, 2, blue))
	testsupport.WritePNG(t, filepath.Join(dir, "0_normal.png"), solid(4, 2, red))

	out, inputs, err := Combine(dir)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(inputs) != 4 || filepath.Base(inputs[0]) != "0_normal.png" || filepath.Base(inputs[3]) != "3_textualnoise.png" {
		t.Fatalf("unexpected inputs %v", inputs)
	}
	img := testsupport.DecodePNG(t, out)
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 8 {
		t.Fatalf("unexpected combined bounds %v", img.Bounds())
	}
	for i, want := range []color.RGBA{red, green, blue, yellow} {
		if got := rgbaAt(img, 1, i*2); got != want {
			t.Fatalf("band %d = %v, want %v", i, got, want)
		}
	}
}

func TestCombineExcludesPreviousCombined(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(dir, "0_normal.png"), solid(4, 2, red))
	testsupport.WritePNG(t, filepath.Join(dir, "1_or.png"), solid(4, 2, green))

	if _, _, err := Combine(dir); err != nil {
		t.Fatalf("first Combine: %v", err)
	}
	out, inputs, err := Combine(dir)
	if err != nil {
		t.Fatalf("second Combine: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("combined.png folded into inputs: %v", inputs)
	}
	if got := testsupport.DecodePNG(t, out).Bounds().Dy(); got != 4 {
		t.Fatalf("combined height %d, want 4 (no nesting)", got)
	}
}

func TestCombineIgnoresHiddenAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(dir, "0_normal.png"), solid(2, 2, red))
	testsupport.WritePNG(t, filepath.Join(dir, ".combined.png.tmp-123"), solid(2, 2, blue))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	inputs, err := Inputs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 1 {
		t.Fatalf("unexpected inputs %v", inputs)
	}
}

func TestCombineWithoutInputsIsAnError(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(dir, CombinedName), solid(2, 2, red))

	_, _, err := Combine(dir)
	if !errors.Is(err, ErrNoInputs) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrNoInputs, got %v", err)
	}
}

func TestCombineScalesToWidest(t *testing.T) {
	dir := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(dir, "0_normal.png"), solid(8, 4, red))
	testsupport.WritePNG(t, filepath.Join(dir, "1_or.png"), solid(4, 4, green))

	out, _, err := Combine(dir)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	img := testsupport.DecodePNG(t, out)
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 12 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if got := rgbaAt(img, 7, 10); got != green {
		t.Fatalf("scaled band should stay green, got %v", got)
	}
}

func TestCombineTreeReportsGroupsIndividually(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "Gradient", "car", "what_color_is_the_car")
	bad := filepath.Join(root, "Gradient", "dog", "where_is_the_dog")
	testsupport.WritePNG(t, filepath.Join(good, "0_normal.png"), solid(2, 2, red))
	testsupport.WritePNG(t, filepath.Join(bad, CombinedName), solid(2, 2, red))

	results, err := CombineTree(context.Background(), root, 2, logging.NewNop())
	if err != nil {
		t.Fatalf("CombineTree: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 groups, got %+v", results)
	}
	var ok, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			if r.Dir != bad {
				t.Fatalf("unexpected failing group %s", r.Dir)
			}
			continue
		}
		ok++
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("ok=%d failed=%d", ok, failed)
	}
}

func TestCombineTreeMissingRoot(t *testing.T) {
	_, err := CombineTree(context.Background(), filepath.Join(t.TempDir(), "none"), 1, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
