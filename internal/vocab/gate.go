// Package vocab decides whether a protocol entry can be explained by looking
// its ground-truth answer up in the model's closed answer vocabulary.
package vocab

import (
	"sync"

	"vqaexplain/internal/model"
)

// Gate resolves answers to category ids and memoizes the result for the
// lifetime of a run.
type Gate struct {
	vocab *model.Vocabulary

	mu   sync.Mutex
	memo map[string]int
}

// NewGate wraps a model vocabulary.
func NewGate(v *model.Vocabulary) *Gate {
	return &Gate{vocab: v, memo: make(map[string]int)}
}

// Resolve returns the category id of answer, or model.UnknownCategory when
// the answer is not in the vocabulary. Absence is not an error.
func (g *Gate) Resolve(answer string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.memo[answer]; ok {
		return id
	}
	id := g.vocab.WordToIndex(answer)
	g.memo[answer] = id
	return id
}

// Admits reports whether answer resolves to a known category.
func (g *Gate) Admits(answer string) bool {
	return g.Resolve(answer) != model.UnknownCategory
}
