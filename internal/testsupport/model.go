package testsupport

import (
	"context"
	"image"
	"image/color"
	"sync"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/model"
	"vqaexplain/internal/services/inference"
)

// FakeModel is an in-memory model.Model. By default it ranks the vocabulary
// answers in order with decreasing probability, so the first real answer is
// always the top prediction.
type FakeModel struct {
	ModelName string
	Vocab     *model.Vocabulary
	// Predict overrides the default ranking when set.
	Predict func(img image.Image, question string) []model.Prediction

	mu        sync.Mutex
	questions []string
}

// NewFakeModel builds a fake model over answers; index 0 is reserved for
// the unknown answer and should be a placeholder like "<unk>".
func NewFakeModel(answers ...string) *FakeModel {
	return &FakeModel{
		ModelName: "demo_model",
		Vocab:     model.NewVocabulary(answers, []string{"what", "color", "is", "the", "car", "dog", "table"}),
	}
}

func (m *FakeModel) Name() string { return m.ModelName }

func (m *FakeModel) Vocabulary() *model.Vocabulary { return m.Vocab }

func (m *FakeModel) Classify(ctx context.Context, img image.Image, question string, topK int) ([]model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.questions = append(m.questions, question)
	m.mu.Unlock()

	var preds []model.Prediction
	if m.Predict != nil {
		preds = m.Predict(img, question)
	} else {
		p := 0.5
		for i := 1; i < m.Vocab.Size(); i++ {
			preds = append(preds, model.Prediction{Answer: m.Vocab.Answer(i), Probability: p})
			p /= 2
		}
	}
	if topK > 0 && len(preds) > topK {
		preds = preds[:topK]
	}
	return preds, nil
}

// Questions returns every question passed to Classify, in call order.
func (m *FakeModel) Questions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.questions...)
}

// FakeRemover paints a black box over the image centre instead of running an
// inpainting model, and counts calls per object.
type FakeRemover struct {
	mu    sync.Mutex
	Calls map[string]int
	Err   error
}

// NewFakeRemover returns a remover with no recorded calls.
func NewFakeRemover() *FakeRemover {
	return &FakeRemover{Calls: make(map[string]int)}
}

func (r *FakeRemover) RemoveObject(ctx context.Context, img image.Image, imageName, object string, num int) ([]inference.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.Calls[imageName+"/"+object]++
	err := r.Err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := imageio.ToRGBA(img)
	b := out.Bounds()
	for y := b.Dy() / 4; y < b.Dy()*3/4; y++ {
		for x := b.Dx() / 4; x < b.Dx()*3/4; x++ {
			out.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}
	data, err := imageio.EncodePNG(out)
	if err != nil {
		return nil, err
	}
	candidates := []inference.Candidate{{Name: imageName, Data: data}}
	for i := 1; i < num; i++ {
		candidates = append(candidates, inference.Candidate{Name: "alt", Data: data})
	}
	return candidates, nil
}

// CallCount returns how often object was removed from imageName.
func (r *FakeRemover) CallCount(imageName, object string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[imageName+"/"+object]
}
