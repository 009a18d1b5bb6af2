package saliency

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"vqaexplain/internal/model"
	"vqaexplain/internal/services"
	"vqaexplain/internal/services/inference"
	"vqaexplain/internal/testsupport"
)

type stubBackend struct {
	methods []string
	calls   []string
}

func (b *stubBackend) Methods(context.Context) ([]string, error) { return b.methods, nil }

func (b *stubBackend) Saliency(_ context.Context, method string, _ image.Image, _ string, categoryID int) (inference.SaliencyResult, error) {
	b.calls = append(b.calls, method)
	return inference.SaliencyResult{Width: 2, Height: 1, Values: []float64{0, float64(categoryID)}}, nil
}

func TestRegistryResolveUnknownIsConfigurationError(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewOcclusion(4, 128)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := r.Resolve("Bogus")
	if !errors.Is(err, ErrUnknownMethod) || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected unknown method configuration error, got %v", err)
	}
	if !services.IsFatal(err) {
		t.Fatal("unknown method must be fatal")
	}
	if _, err := r.ResolveAll([]string{OcclusionName, "Bogus"}); err == nil {
		t.Fatal("ResolveAll should fail on the first unknown name")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewOcclusion(2, 0)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewOcclusion(3, 0)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegisterRemote(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewOcclusion(2, 0)); err != nil {
		t.Fatal(err)
	}
	backend := &stubBackend{methods: []string{"Gradient", "GradCAM", OcclusionName}}
	added, err := RegisterRemote(context.Background(), r, backend)
	if err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 remote methods, got %v", added)
	}
	if got := r.Names(); len(got) != 3 || got[0] != "GradCAM" {
		t.Fatalf("unexpected names %v", got)
	}

	m, err := r.Resolve("Gradient")
	if err != nil {
		t.Fatal(err)
	}
	sal, err := m.Compute(context.Background(), Request{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), CategoryID: 7})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !sal.Valid() || sal.At(1, 0) != 7 || backend.calls[0] != "Gradient" {
		t.Fatalf("unexpected remote map %+v calls=%v", sal, backend.calls)
	}
}

func TestMapNormalized(t *testing.T) {
	m := Map{Width: 2, Height: 2, Values: []float64{2, 4, 6, math.NaN()}}
	n := m.Normalized()
	want := []float64{0, 0.5, 1, 0}
	for i, v := range n.Values {
		if v != want[i] {
			t.Fatalf("Normalized()[%d] = %v, want %v", i, v, want[i])
		}
	}
	flat := Map{Width: 1, Height: 2, Values: []float64{3, 3}}.Normalized()
	if flat.Values[0] != 0 || flat.Values[1] != 0 {
		t.Fatalf("constant map should normalize to zeros, got %v", flat.Values)
	}
}

func TestOcclusionHighlightsInformativeRegion(t *testing.T) {
	fake := testsupport.NewFakeModel("<unk>", "red", "grey")
	// The model answers "red" with a confidence proportional to the number
	// of red pixels still visible.
	fake.Predict = func(img image.Image, _ string) []model.Prediction {
		b := img.Bounds()
		red := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, _, _ := img.At(x, y).RGBA()
				if r>>8 > 200 && g>>8 < 50 {
					red++
				}
			}
		}
		p := float64(red) / float64(b.Dx()*b.Dy())
		return []model.Prediction{{Answer: "red", Probability: p}, {Answer: "grey", Probability: 1 - p}}
	}
	img := testsupport.Image(16, 16, color.RGBA{R: 255, A: 255})

	m := NewOcclusion(2, 128)
	sal, err := m.Compute(context.Background(), Request{Model: fake, Image: img, Question: "what color", CategoryID: 1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !sal.Valid() || sal.Width != 2 {
		t.Fatalf("unexpected map %+v", sal)
	}
	if sal.At(0, 0) <= 0 {
		t.Fatalf("upper-left cell holds the red block and should score > 0: %v", sal.Values)
	}
	for _, idx := range []int{1, 2, 3} {
		if sal.Values[idx] != 0 {
			t.Fatalf("cell %d has no red pixels and should score 0: %v", idx, sal.Values)
		}
	}
}

func TestOcclusionRejectsUnknownCategory(t *testing.T) {
	fake := testsupport.NewFakeModel("<unk>", "red")
	_, err := NewOcclusion(2, 0).Compute(context.Background(), Request{Model: fake, Image: testsupport.Image(4, 4, color.RGBA{}), CategoryID: 0})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
