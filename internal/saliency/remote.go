package saliency

import (
	"context"
	"image"

	"vqaexplain/internal/services/inference"
)

// Backend is the part of the inference client that serves saliency methods.
type Backend interface {
	Methods(ctx context.Context) ([]string, error)
	Saliency(ctx context.Context, method string, img image.Image, question string, categoryID int) (inference.SaliencyResult, error)
}

type remoteMethod struct {
	name    string
	backend Backend
}

func (m remoteMethod) Name() string { return m.name }

func (m remoteMethod) Compute(ctx context.Context, req Request) (Map, error) {
	res, err := m.backend.Saliency(ctx, m.name, req.Image, req.Question, req.CategoryID)
	if err != nil {
		return Map{}, err
	}
	return Map{Width: res.Width, Height: res.Height, Values: res.Values}, nil
}

// RegisterRemote registers every method the backend advertises. Names that
// are already registered keep their existing implementation.
func RegisterRemote(ctx context.Context, r *Registry, backend Backend) ([]string, error) {
	names, err := backend.Methods(ctx)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, name := range names {
		if _, err := r.Resolve(name); err == nil {
			continue
		}
		if err := r.Register(remoteMethod{name: name, backend: backend}); err != nil {
			return added, err
		}
		added = append(added, name)
	}
	return added, nil
}
