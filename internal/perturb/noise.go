package perturb

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"unicode"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/model"
	"vqaexplain/internal/protocol"
)

// Visual adds zero-mean Gaussian noise to every colour channel. The noise
// pattern depends only on the seed and the image name, so repeated runs
// produce identical inputs.
type Visual struct {
	StdDev float64 // fraction of the full 0-255 range
	Seed   int64
}

func (Visual) Type() AnalysisType { return VisualNoise }

func (v Visual) Apply(_ context.Context, entry protocol.Entry, base Input) (Input, error) {
	img := imageio.ToRGBA(base.Image)
	rng := rand.New(rand.NewPCG(uint64(v.Seed), hash(entry.ImageName)))
	sigma := v.StdDev * 255
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			val := float64(img.Pix[i+c]) + rng.NormFloat64()*sigma
			img.Pix[i+c] = uint8(math.Max(0, math.Min(255, math.Round(val))))
		}
	}
	return Input{Image: img, Question: base.Question}, nil
}

// Textual replaces question words with tokens drawn from the model's
// question vocabulary at Rate. Without a vocabulary it swaps two adjacent
// characters inside the chosen words instead. At least one word always
// changes, and the result depends only on the seed and the question.
type Textual struct {
	Vocab *model.Vocabulary
	Rate  float64
	Seed  int64
}

func (Textual) Type() AnalysisType { return TextualNoise }

func (t Textual) Apply(_ context.Context, _ protocol.Entry, base Input) (Input, error) {
	return Input{Image: base.Image, Question: t.Perturb(base.Question)}, nil
}

// Perturb returns the noisy version of question.
func (t Textual) Perturb(question string) string {
	words := strings.Fields(question)
	if len(words) == 0 {
		return question
	}
	rng := rand.New(rand.NewPCG(uint64(t.Seed), hash(question)))
	tokens := t.Vocab.QuestionTokens()

	changed := false
	for i := range words {
		if rng.Float64() >= t.Rate {
			continue
		}
		if next, ok := t.mutate(words[i], tokens, rng); ok {
			words[i] = next
			changed = true
		}
	}
	if !changed {
		start := rng.IntN(len(words))
		for off := 0; off < len(words) && !changed; off++ {
			i := (start + off) % len(words)
			if next, ok := t.mutate(words[i], tokens, rng); ok {
				words[i] = next
				changed = true
			}
		}
	}
	return strings.Join(words, " ")
}

func (t Textual) mutate(word string, tokens []string, rng *rand.Rand) (string, bool) {
	core, suffix := splitPunct(word)
	if core == "" {
		return word, false
	}
	if len(tokens) > 0 {
		for attempt := 0; attempt < 4; attempt++ {
			tok := tokens[rng.IntN(len(tokens))]
			if !strings.EqualFold(tok, core) {
				return tok + suffix, true
			}
		}
	}
	runes := []rune(core)
	if len(runes) < 2 {
		return word, false
	}
	i := rng.IntN(len(runes) - 1)
	if runes[i] == runes[i+1] {
		return word, false
	}
	runes[i], runes[i+1] = runes[i+1], runes[i]
	return string(runes) + suffix, true
}

// splitPunct separates trailing punctuation such as "?" from a word.
func splitPunct(word string) (string, string) {
	end := len(word)
	for end > 0 {
		r := rune(word[end-1])
		if r >= 0x80 || !unicode.IsPunct(r) {
			break
		}
		end--
	}
	return word[:end], word[end:]
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

var (
	_ Strategy = Identity{}
	_ Strategy = (*Removal)(nil)
	_ Strategy = Visual{}
	_ Strategy = Textual{}
)
