package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls the Ollama HTTP API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient constructs a client with the provided base URL.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// OllamaEmbedder wraps Ollama embedding calls with a fixed model and
// dimension. It implements Embedder and BatchEmbedder.
type OllamaEmbedder struct {
	client     *OllamaClient
	model      string
	dimensions int
}

// NewOllamaEmbedder builds an Ollama-based embedder.
func NewOllamaEmbedder(client *OllamaClient, model string, dimensions int) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model, dimensions: dimensions}
}

// Dimensions reports the configured vector width.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// EmbedText returns the embedding for one text.
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts returns embeddings for multiple texts in one request,
// index aligned with the input.
func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, input any) ([][]float32, error) {
	model := strings.TrimSpace(e.model)
	if model == "" {
		return nil, fmt.Errorf("ollama embedding model required")
	}

	reqBody := ollamaEmbedRequest{Model: model, Input: input}
	if e.dimensions > 0 {
		reqBody.Dimensions = e.dimensions
	}

	var resp ollamaEmbedResponse
	status, err := e.client.doJSON(ctx, "/api/embed", reqBody, &resp)
	if err != nil {
		// Older servers only expose the legacy single-text endpoint.
		if text, ok := input.(string); ok && (status == http.StatusNotFound || status == http.StatusMethodNotAllowed) {
			vec, legacyErr := e.embedLegacy(ctx, model, text)
			if legacyErr != nil {
				return nil, legacyErr
			}
			return [][]float32{vec}, nil
		}
		return nil, err
	}

	if len(resp.Embeddings) > 0 {
		return resp.Embeddings, nil
	}
	if len(resp.Embedding) > 0 {
		return [][]float32{resp.Embedding}, nil
	}
	return nil, fmt.Errorf("ollama embed response missing embeddings")
}

func (e *OllamaEmbedder) embedLegacy(ctx context.Context, model, text string) ([]float32, error) {
	reqBody := ollamaLegacyEmbedRequest{Model: model, Prompt: text}
	var resp ollamaLegacyEmbedResponse
	if _, err := e.client.doJSON(ctx, "/api/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedding response missing embedding")
	}
	return resp.Embedding, nil
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

type ollamaEmbedRequest struct {
	Model      string `json:"model"`
	Input      any    `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

type ollamaLegacyEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaLegacyEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
