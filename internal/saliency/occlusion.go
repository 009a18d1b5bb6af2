package saliency

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/services"
)

// OcclusionName is the registry name of the built-in occlusion method.
const OcclusionName = "Occlusion"

const occlusionTopK = 10

// Occlusion attributes a prediction to image regions by masking one cell of a
// Grid x Grid lattice at a time and measuring how much the probability of
// the explained answer drops.
type Occlusion struct {
	Grid int
	Fill uint8
}

// NewOcclusion returns an occlusion method with the given lattice size and
// grey fill level.
func NewOcclusion(grid int, fill uint8) *Occlusion {
	if grid < 1 {
		grid = 1
	}
	return &Occlusion{Grid: grid, Fill: fill}
}

func (o *Occlusion) Name() string { return OcclusionName }

func (o *Occlusion) Compute(ctx context.Context, req Request) (Map, error) {
	if req.Model == nil || req.Image == nil {
		return Map{}, services.Wrap(services.ErrValidation, "saliency", "occlusion", "model and image required", nil)
	}
	answer := req.Model.Vocabulary().Answer(req.CategoryID)
	if answer == "" {
		return Map{}, services.Wrap(services.ErrValidation, "saliency", "occlusion",
			fmt.Sprintf("category %d has no answer", req.CategoryID), nil)
	}

	base, err := o.probability(ctx, req, req.Image, answer)
	if err != nil {
		return Map{}, err
	}

	src := imageio.ToRGBA(req.Image)
	bounds := src.Bounds()
	out := Map{Width: o.Grid, Height: o.Grid, Values: make([]float64, o.Grid*o.Grid)}
	fill := image.NewUniform(color.RGBA{R: o.Fill, G: o.Fill, B: o.Fill, A: 255})
	masked := image.NewRGBA(bounds)

	for gy := 0; gy < o.Grid; gy++ {
		for gx := 0; gx < o.Grid; gx++ {
			if err := ctx.Err(); err != nil {
				return Map{}, err
			}
			cell := image.Rect(
				bounds.Dx()*gx/o.Grid, bounds.Dy()*gy/o.Grid,
				bounds.Dx()*(gx+1)/o.Grid, bounds.Dy()*(gy+1)/o.Grid,
			)
			copy(masked.Pix, src.Pix)
			draw.Draw(masked, cell, fill, image.Point{}, draw.Src)

			p, err := o.probability(ctx, req, masked, answer)
			if err != nil {
				return Map{}, err
			}
			if drop := base - p; drop > 0 {
				out.Values[gy*o.Grid+gx] = drop
			}
		}
	}
	return out, nil
}

// probability returns the model's probability for answer, or 0 when the
// answer falls out of the returned ranking.
func (o *Occlusion) probability(ctx context.Context, req Request, img image.Image, answer string) (float64, error) {
	preds, err := req.Model.Classify(ctx, img, req.Question, occlusionTopK)
	if err != nil {
		return 0, err
	}
	vocab := req.Model.Vocabulary()
	target := vocab.WordToIndex(answer)
	for _, p := range preds {
		if vocab.WordToIndex(p.Answer) == target {
			return p.Probability, nil
		}
	}
	return 0, nil
}

var _ Method = (*Occlusion)(nil)
