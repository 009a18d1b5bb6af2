package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"vqaexplain/internal/imageio"
	"vqaexplain/internal/model"
	"vqaexplain/internal/services"
)

const (
	defaultTimeout        = 5 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
	maxErrorBody          = 512
)

// Client is an inference backend client.
type Client struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	name  string
	vocab *model.Vocabulary
}

var _ model.Model = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry overrides the retry policy for idempotent requests.
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if baseDelay >= 0 {
			c.retryBaseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.retryMaxDelay = maxDelay
		}
	}
}

// New creates a backend client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "backend base url required", nil)
	}
	client := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil, true)
}

type loadRequest struct {
	ModelDir   string `json:"model_dir"`
	TorchCache string `json:"torch_cache"`
}

type loadResponse struct {
	ModelName string `json:"model_name"`
}

type vocabResponse struct {
	Answers        []string `json:"answers"`
	QuestionTokens []string `json:"question_tokens"`
}

// Load asks the backend to load the trained model from modelDir and fetches
// its vocabulary. The client satisfies model.Model afterwards.
func (c *Client) Load(ctx context.Context, modelDir, torchCache string) error {
	var loaded loadResponse
	if err := c.call(ctx, http.MethodPost, "/load", loadRequest{ModelDir: modelDir, TorchCache: torchCache}, &loaded, false); err != nil {
		return err
	}
	var vocab vocabResponse
	if err := c.call(ctx, http.MethodGet, "/vocab", nil, &vocab, true); err != nil {
		return err
	}
	if len(vocab.Answers) == 0 {
		return services.Wrap(services.ErrExternalTool, "inference", "vocab", "backend returned an empty answer vocabulary", nil)
	}
	c.name = strings.TrimSpace(loaded.ModelName)
	c.vocab = model.NewVocabulary(vocab.Answers, vocab.QuestionTokens)
	return nil
}

// Name returns the name reported by the backend on Load.
func (c *Client) Name() string { return c.name }

// Vocabulary returns the vocabulary fetched on Load.
func (c *Client) Vocabulary() *model.Vocabulary { return c.vocab }

type classifyRequest struct {
	Image    string `json:"image"`
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type classifyResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

// Classify returns the top-k ranked answers for img and question.
func (c *Client) Classify(ctx context.Context, img image.Image, question string, topK int) ([]model.Prediction, error) {
	encoded, err := encodeImage(img)
	if err != nil {
		return nil, err
	}
	var resp classifyResponse
	if err := c.call(ctx, http.MethodPost, "/classify", classifyRequest{Image: encoded, Question: question, TopK: topK}, &resp, true); err != nil {
		return nil, err
	}
	if len(resp.Predictions) > topK && topK > 0 {
		resp.Predictions = resp.Predictions[:topK]
	}
	return resp.Predictions, nil
}

type methodsResponse struct {
	Methods []string `json:"methods"`
}

// Methods lists the saliency methods the backend implements.
func (c *Client) Methods(ctx context.Context) ([]string, error) {
	var resp methodsResponse
	if err := c.call(ctx, http.MethodGet, "/methods", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Methods, nil
}

type saliencyRequest struct {
	Method     string `json:"method"`
	Image      string `json:"image"`
	Question   string `json:"question"`
	CategoryID int    `json:"category_id"`
}

// SaliencyResult is a row-major saliency grid.
type SaliencyResult struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"values"`
}

// Saliency computes the named saliency method for categoryID.
func (c *Client) Saliency(ctx context.Context, method string, img image.Image, question string, categoryID int) (SaliencyResult, error) {
	encoded, err := encodeImage(img)
	if err != nil {
		return SaliencyResult{}, err
	}
	var resp SaliencyResult
	req := saliencyRequest{Method: method, Image: encoded, Question: question, CategoryID: categoryID}
	if err := c.call(ctx, http.MethodPost, "/saliency", req, &resp, true); err != nil {
		return SaliencyResult{}, err
	}
	if resp.Width <= 0 || resp.Height <= 0 || len(resp.Values) != resp.Width*resp.Height {
		return SaliencyResult{}, services.Wrap(services.ErrExternalTool, "inference", "saliency",
			fmt.Sprintf("malformed saliency grid %dx%d with %d values", resp.Width, resp.Height, len(resp.Values)), nil)
	}
	return resp, nil
}

type removeRequest struct {
	Image     string `json:"image"`
	ImageName string `json:"image_name"`
	Object    string `json:"object"`
	Num       int    `json:"num"`
}

type removedImage struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type removeResponse struct {
	Images []removedImage `json:"images"`
}

// Candidate is one object-removal output encoded as PNG.
type Candidate struct {
	Name string
	Data []byte
}

// RemoveObject erases object from img and returns up to num candidates, the
// first being the preferred result.
func (c *Client) RemoveObject(ctx context.Context, img image.Image, imageName, object string, num int) ([]Candidate, error) {
	encoded, err := encodeImage(img)
	if err != nil {
		return nil, err
	}
	var resp removeResponse
	req := removeRequest{Image: encoded, ImageName: imageName, Object: object, Num: num}
	if err := c.call(ctx, http.MethodPost, "/remove_object", req, &resp, false); err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "inference", "remove_object", "backend returned no images for "+object, nil)
	}
	out := make([]Candidate, 0, len(resp.Images))
	for _, item := range resp.Images {
		data, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "inference", "remove_object", "decode candidate "+item.Name, err)
		}
		out = append(out, Candidate{Name: item.Name, Data: data})
	}
	return out, nil
}

func encodeImage(img image.Image) (string, error) {
	if img == nil {
		return "", services.Wrap(services.ErrValidation, "inference", "encode", "nil image", nil)
	}
	data, err := imageio.EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// call performs one request, retrying idempotent ones on transient failures.
func (c *Client) call(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("inference %s: encode body: %w", path, err)
		}
		payload = encoded
	}

	attempts := 1
	if idempotent {
		attempts = c.retryAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !retryable(ctx, lastErr) {
			break
		}
		if err := sleep(ctx, c.backoffDelay(attempt)); err != nil {
			break
		}
	}
	return classify(path, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, "inference", strings.TrimPrefix(path, "/"), "decode response", err)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, services.ErrExternalTool) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func classify(path string, err error) error {
	if err == nil {
		return nil
	}
	op := strings.TrimPrefix(path, "/")
	var statusErr *httpStatusError
	switch {
	case errors.Is(err, services.ErrExternalTool):
		return err
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "inference", op, "backend returned 404", err)
	case errors.As(err, &statusErr):
		return services.Wrap(services.ErrExternalTool, "inference", op, "backend request failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "inference", op, "backend request timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return services.Wrap(services.ErrTimeout, "inference", op, "backend request timed out", err)
		}
		return services.Wrap(services.ErrTransient, "inference", op, "backend unreachable", err)
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	if delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
