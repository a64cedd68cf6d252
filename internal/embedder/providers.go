package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/zeebo/xxh3"

	"github.com/dshills/codeintel/internal/tokenize"
	"github.com/dshills/codeintel/pkg/types"
)

// Provider configuration
const (
	ProviderLocal  = "local"
	ProviderDaemon = "daemon"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	// Default models
	DefaultLocalModel  = "local-hash"
	DefaultDaemonModel = "daemon"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Dimensions
	LocalDimension  = 384
	OpenAIDimension = 1536

	// Batch limits
	MaxBatchSize = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	// EnvOpenAIAPIKey is consulted when no api_key is configured
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// LocalProvider produces deterministic feature-hashed vectors from the
// code-aware tokens of a text. It needs no model and no network, so texts
// sharing identifiers land close together while everything stays offline.
type LocalProvider struct {
	model string
	dim   int
}

// NewLocalProvider creates a local embedder; dim <= 0 selects LocalDimension
func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{model: DefaultLocalModel, dim: dim}
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *LocalProvider) vector(text string) []float32 {
	v := make([]float32, l.dim)
	tokens := tokenize.Tokens(text)
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(text)}
	}

	for _, tok := range tokens {
		sum := xxh3.HashString(tok)

		bucket := int(sum % uint64(l.dim))
		if sum&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}
	return NormalizeVector(v)
}

func (l *LocalProvider) Dimension() int   { return l.dim }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return l.model }
func (l *LocalProvider) Close() error     { return nil }

// DaemonProvider calls an embedding daemon over HTTP:
// POST {base}/embed {"texts": [...]} -> {"embeddings": [[...], ...]}
type DaemonProvider struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
	retry      RetryConfig
}

// NewDaemonProvider creates a daemon client. The dimension must match the
// daemon's model.
func NewDaemonProvider(baseURL, model string, dim int, timeout time.Duration) (*DaemonProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: daemon_url not set", ErrUnsupportedProvider)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: daemon dimension must be positive", ErrUnsupportedProvider)
	}
	if model == "" {
		model = DefaultDaemonModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &DaemonProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: DefaultRetryConfig(),
	}, nil
}

func (d *DaemonProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		batch := texts[start:min(start+MaxBatchSize, len(texts))]

		vectors, err := retryWithBackoff(ctx, d.retry, func() ([][]float32, error) {
			return d.callDaemon(ctx, batch)
		})
		if err != nil {
			return nil, unavailable(fmt.Errorf("%w: daemon: %w", ErrProviderFailed, err))
		}
		if err := checkDimensions(vectors, len(batch), d.dim); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (d *DaemonProvider) callDaemon(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{"texts": texts})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("daemon error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if !retryableStatus(resp.StatusCode) {
			return nil, permanent(err)
		}
		return nil, err
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, permanent(fmt.Errorf("decode response: %w", err))
	}
	return apiResp.Embeddings, nil
}

func (d *DaemonProvider) Dimension() int   { return d.dim }
func (d *DaemonProvider) Provider() string { return ProviderDaemon }
func (d *DaemonProvider) Model() string    { return d.model }

func (d *DaemonProvider) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    int
	retry  RetryConfig
}

// NewOpenAIProvider creates an OpenAI embedder. An empty apiKey falls back to
// $OPENAI_API_KEY; baseURL overrides the API endpoint when set.
func NewOpenAIProvider(apiKey, model string, dim int, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrUnsupportedProvider, EnvOpenAIAPIKey)
	}
	if model == "" || model == DefaultLocalModel {
		model = DefaultOpenAIModel
	}
	if dim <= 0 {
		dim = OpenAIDimension
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
		retry:  DefaultRetryConfig(),
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		batch := texts[start:min(start+MaxBatchSize, len(texts))]

		vectors, err := retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
			return o.callAPI(ctx, batch)
		})
		if err != nil {
			return nil, unavailable(fmt.Errorf("%w: openai: %w", ErrProviderFailed, err))
		}
		if err := checkDimensions(vectors, len(batch), o.dim); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.HTTPStatusCode) {
			return nil, permanent(err)
		}
		return nil, err
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vectors[i] = NormalizeVector(v)
	}
	return vectors, nil
}

func (o *OpenAIProvider) Dimension() int   { return o.dim }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.model }
func (o *OpenAIProvider) Close() error     { return nil }

// NoneProvider disables semantic search: every call reports the embedder
// as unavailable.
type NoneProvider struct {
	dim int
}

// NewNoneProvider creates the disabled embedder
func NewNoneProvider(dim int) *NoneProvider {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &NoneProvider{dim: dim}
}

func (n *NoneProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: embedding provider is none", types.ErrEmbedderUnavailable)
}

func (n *NoneProvider) Dimension() int   { return n.dim }
func (n *NoneProvider) Provider() string { return ProviderNone }
func (n *NoneProvider) Model() string    { return ProviderNone }
func (n *NoneProvider) Close() error     { return nil }

// retryableStatus reports whether an HTTP status is worth another attempt
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 || code == 0
}
