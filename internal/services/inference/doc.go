// Package inference talks to the model-serving backend that hosts the VQA
// model, its gradient-based saliency methods and the object-removal model.
//
// The backend speaks JSON over HTTP with images encoded as base64 PNG. Client
// implements model.Model once Load has succeeded, and additionally exposes
// Methods, Saliency and RemoveObject for the saliency registry and the
// removal cache. Failures are tagged with services error markers: transport
// problems are ErrTransient or ErrTimeout, non-success responses are
// ErrExternalTool, and unknown methods are ErrNotFound. Idempotent requests
// are retried with exponential backoff on transient failures.
package inference
