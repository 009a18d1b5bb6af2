package saliency

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"vqaexplain/internal/model"
	"vqaexplain/internal/services"
)

// ErrUnknownMethod marks a method name that is not registered.
var ErrUnknownMethod = errors.New("unknown explainability method")

// Map is a row-major grid of attribution scores. Its resolution is
// independent of the image it explains.
type Map struct {
	Width  int
	Height int
	Values []float64
}

// Valid reports whether the grid shape matches its values.
func (m Map) Valid() bool {
	return m.Width > 0 && m.Height > 0 && len(m.Values) == m.Width*m.Height
}

// At returns the score at grid cell (x, y).
func (m Map) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// Normalized rescales the scores to [0, 1]. A constant map becomes all zeros.
func (m Map) Normalized() Map {
	out := Map{Width: m.Width, Height: m.Height, Values: make([]float64, len(m.Values))}
	if len(m.Values) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range m.Values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) {
		return out
	}
	for i, v := range m.Values {
		if math.IsNaN(v) {
			continue
		}
		out.Values[i] = (v - lo) / span
	}
	return out
}

// Request carries the inputs of one saliency computation.
type Request struct {
	Model      model.Model
	Image      image.Image
	Question   string
	CategoryID int
}

// Method computes saliency maps.
type Method interface {
	Name() string
	Compute(ctx context.Context, req Request) (Map, error)
}

// Registry maps method names to methods.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds m. Registering a name twice is an error.
func (r *Registry) Register(m Method) error {
	if m == nil {
		return errors.New("saliency: nil method")
	}
	name := strings.TrimSpace(m.Name())
	if name == "" {
		return errors.New("saliency: method name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("saliency: method %q already registered", name)
	}
	r.methods[name] = m
	return nil
}

// Resolve returns the method registered under name.
func (r *Registry) Resolve(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.methods[strings.TrimSpace(name)]; ok {
		return m, nil
	}
	return nil, services.Wrap(services.ErrConfiguration, "saliency", "resolve", fmt.Sprintf("%q (registered: %s)", name, strings.Join(r.namesLocked(), ", ")), ErrUnknownMethod)
}

// ResolveAll resolves every name, failing on the first unknown one.
func (r *Registry) ResolveAll(names []string) ([]Method, error) {
	out := make([]Method, 0, len(names))
	for _, name := range names {
		m, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Names lists registered method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
