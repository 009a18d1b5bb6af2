// Package model defines the VQA model contract consumed by the protocol
// runner and the closed answer vocabulary shared by its collaborators.
package model

import (
	"context"
	"image"
)

// UnknownCategory is the category id reserved for answers outside the
// vocabulary.
const UnknownCategory = 0

// Prediction is one ranked answer returned by Classify.
type Prediction struct {
	Answer      string  `json:"answer"`
	Probability float64 `json:"probability"`
}

// Model is a loaded VQA model.
type Model interface {
	// Name identifies the trained model, usually the last element of model_dir.
	Name() string
	// Classify returns up to topK answers ordered by descending probability.
	Classify(ctx context.Context, img image.Image, question string, topK int) ([]Prediction, error)
	// Vocabulary returns the model's fixed answer and question-token vocabulary.
	Vocabulary() *Vocabulary
}

// Vocabulary maps answers to category ids. Index 0 of the answer list is the
// unknown-answer slot, so a lookup miss and the reserved entry coincide.
type Vocabulary struct {
	answers []string
	index   map[string]int
	tokens  []string
}

// NewVocabulary builds a vocabulary from the model's ordered answer list and
// its question tokens. Answers are matched exactly; the first occurrence of a
// duplicated answer wins.
func NewVocabulary(answers, questionTokens []string) *Vocabulary {
	v := &Vocabulary{
		answers: append([]string(nil), answers...),
		index:   make(map[string]int, len(answers)),
		tokens:  append([]string(nil), questionTokens...),
	}
	for i, answer := range answers {
		if i == UnknownCategory {
			continue
		}
		if answer == "" {
			continue
		}
		if _, exists := v.index[answer]; !exists {
			v.index[answer] = i
		}
	}
	return v
}

// WordToIndex returns the category id of answer, or UnknownCategory.
func (v *Vocabulary) WordToIndex(answer string) int {
	if v == nil {
		return UnknownCategory
	}
	if id, ok := v.index[answer]; ok {
		return id
	}
	return UnknownCategory
}

// Answer returns the answer string for id, or "" when out of range.
func (v *Vocabulary) Answer(id int) string {
	if v == nil || id <= UnknownCategory || id >= len(v.answers) {
		return ""
	}
	return v.answers[id]
}

// Size returns the number of answer slots including the unknown slot.
func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.answers)
}

// QuestionTokens returns the model's question vocabulary, possibly empty.
func (v *Vocabulary) QuestionTokens() []string {
	if v == nil {
		return nil
	}
	return v.tokens
}
