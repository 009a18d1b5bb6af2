package perturb

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	"vqaexplain/internal/protocol"
	"vqaexplain/internal/services"
)

// AnalysisType identifies a perturbation. The numeric value is the artifact
// index and must not change.
type AnalysisType int

const (
	Normal        AnalysisType = 0
	ObjectRemoval AnalysisType = 1
	VisualNoise   AnalysisType = 2
	TextualNoise  AnalysisType = 3
)

var typeNames = map[AnalysisType]string{
	Normal:        "Normal",
	ObjectRemoval: "OR",
	VisualNoise:   "VisualNoise",
	TextualNoise:  "TextualNoise",
}

// String returns the configuration name of t.
func (t AnalysisType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AnalysisType(%d)", int(t))
}

// Index returns the artifact ordering index of t.
func (t AnalysisType) Index() int { return int(t) }

// Slug returns the lower-cased name used in artifact filenames.
func (t AnalysisType) Slug() string { return strings.ToLower(t.String()) }

// ParseAnalysisType maps a configuration name to its type. ObjectRemoval is
// accepted as an alias of OR.
func ParseAnalysisType(name string) (AnalysisType, bool) {
	switch strings.TrimSpace(name) {
	case "Normal":
		return Normal, true
	case "OR", "ObjectRemoval":
		return ObjectRemoval, true
	case "VisualNoise":
		return VisualNoise, true
	case "TextualNoise":
		return TextualNoise, true
	default:
		return 0, false
	}
}

var (
	// ErrNotApplicable marks a strategy that declines an entry, such as OR
	// for an entry without an object to remove.
	ErrNotApplicable = errors.New("analysis type not applicable")
	// ErrNotImplementedAnalysisType marks an analysis type name with no
	// strategy.
	ErrNotImplementedAnalysisType = errors.New("analysis type not implemented")
)

// Step is one analysis type in execution order.
type Step struct {
	Name  string
	Type  AnalysisType
	Known bool
}

// Plan orders configured analysis-type names for execution. Normal always
// runs first, known types follow by index, and unknown names run last in the
// order they were configured. Duplicates are dropped.
func Plan(names []string) []Step {
	known := []Step{{Name: Normal.String(), Type: Normal, Known: true}}
	var unknown []Step
	seenKnown := map[AnalysisType]struct{}{Normal: {}}
	seenUnknown := map[string]struct{}{}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if t, ok := ParseAnalysisType(name); ok {
			if _, dup := seenKnown[t]; dup {
				continue
			}
			seenKnown[t] = struct{}{}
			known = append(known, Step{Name: t.String(), Type: t, Known: true})
			continue
		}
		if _, dup := seenUnknown[name]; dup {
			continue
		}
		seenUnknown[name] = struct{}{}
		unknown = append(unknown, Step{Name: name})
	}
	sort.SliceStable(known, func(i, j int) bool { return known[i].Type < known[j].Type })
	return append(known, unknown...)
}

// CheckUnknown decides what an unknown analysis type means for entry. When
// the entry requests object removal the name is treated as a configuration
// error that aborts the run; otherwise it returns nil and the caller logs
// and ignores the type.
func CheckUnknown(step Step, entry protocol.Entry) error {
	if step.Known || !entry.HasRemoval() {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "perturb", "dispatch",
		fmt.Sprintf("analysis type %q is not implemented (entry %s)", step.Name, entry.ID), ErrNotImplementedAnalysisType)
}

// Input is the image and question fed to the model for one analysis type.
type Input struct {
	Image    image.Image
	Question string
}

// Strategy applies one analysis type to an entry.
type Strategy interface {
	Type() AnalysisType
	Apply(ctx context.Context, entry protocol.Entry, base Input) (Input, error)
}

// Set maps analysis types to strategies.
type Set struct {
	strategies map[AnalysisType]Strategy
}

// NewSet builds a set; later strategies replace earlier ones of the same type.
func NewSet(strategies ...Strategy) *Set {
	s := &Set{strategies: make(map[AnalysisType]Strategy, len(strategies))}
	for _, st := range strategies {
		if st != nil {
			s.strategies[st.Type()] = st
		}
	}
	return s
}

// Strategy returns the strategy for t.
func (s *Set) Strategy(t AnalysisType) (Strategy, bool) {
	st, ok := s.strategies[t]
	return st, ok
}

// Identity is the Normal analysis: the entry is classified unchanged.
type Identity struct{}

func (Identity) Type() AnalysisType { return Normal }

func (Identity) Apply(_ context.Context, _ protocol.Entry, base Input) (Input, error) {
	return base, nil
}
