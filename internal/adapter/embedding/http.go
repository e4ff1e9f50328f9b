package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"imgsearch/internal/port"
)

const (
	JinaBaseURL     = "https://api.jina.ai/v1"
	defaultTimeout  = 60 * time.Second
	maxBatch        = 32
	maxErrorPreview = 200
)

// HTTPOptions configures an HTTPEncoder.
type HTTPOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	// Dimension is sent as the requested output size. Zero leaves it to the
	// server and the encoder learns it from the first response.
	Dimension int
	Timeout   time.Duration
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
}

// HTTPEncoder talks to a multimodal /embeddings endpoint that accepts
// {"text": ...} and {"image": base64} inputs, as served by Jina CLIP and
// compatible gateways.
type HTTPEncoder struct {
	apiKey    string
	model     string
	baseURL   string
	requested int
	client    *http.Client
	limiter   *rate.Limiter

	// dimension is 0 until requested or seen in a response.
	dimension atomic.Int64
}

var _ port.Encoder = (*HTTPEncoder)(nil)

type embeddingInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type embeddingRequest struct {
	Model      string           `json:"model"`
	Input      []embeddingInput `json:"input"`
	Dimensions int              `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewHTTPEncoder(opts HTTPOptions) (*HTTPEncoder, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	e := &HTTPEncoder{
		apiKey:    opts.APIKey,
		model:     opts.Model,
		baseURL:   opts.BaseURL,
		requested: max(opts.Dimension, 0),
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
	}
	e.dimension.Store(int64(e.requested))
	return e, nil
}

func (e *HTTPEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	vecs, err := e.EncodeImageBatch(ctx, []image.Image{img})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEncoder) EncodeImageBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	if len(imgs) == 0 {
		return nil, nil
	}

	var all [][]float32
	for i := 0; i < len(imgs); i += maxBatch {
		end := min(i+maxBatch, len(imgs))

		inputs := make([]embeddingInput, 0, end-i)
		for _, img := range imgs[i:end] {
			encoded, err := encodePNG(img)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, embeddingInput{Image: encoded})
		}

		vecs, err := e.embed(ctx, inputs)
		if err != nil {
			return nil, err
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (e *HTTPEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []embeddingInput{{Text: text}})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEncoder) embed(ctx context.Context, inputs []embeddingInput) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	jsonData, err := json.Marshal(embeddingRequest{
		Model:      e.model,
		Input:      inputs,
		Dimensions: e.requested,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	vecs := make([][]float32, len(inputs))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(vecs) {
			vecs[data.Index] = data.Embedding
		}
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("API returned no embedding for input %d", i)
		}
		if err := e.checkDimension(len(v)); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	return vecs, nil
}

// checkDimension fixes the dimension on the first vector seen and rejects
// any other length afterwards.
func (e *HTTPEncoder) checkDimension(n int) error {
	if e.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := e.dimension.Load(); int64(n) != want {
		return fmt.Errorf("%w: API returned %d values, want %d", port.ErrDimensionMismatch, n, want)
	}
	return nil
}

// Dimension reports the vector size, or 0 while it is not yet known.
func (e *HTTPEncoder) Dimension() int {
	return int(e.dimension.Load())
}

func (e *HTTPEncoder) ModelName() string {
	return e.model
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > maxErrorPreview {
		s = s[:maxErrorPreview]
	}
	return s
}
