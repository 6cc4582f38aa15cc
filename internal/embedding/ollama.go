package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider calls a local Ollama instance for embeddings (/api/embed)
// and concept extraction (/api/generate).
type OllamaProvider struct {
	baseURL      string
	embedModel   string
	extractModel string
	dimensions   int
	client       *http.Client
}

// NewOllamaProvider creates a provider targeting the given Ollama instance.
// extractModel may equal embedModel when one model serves both jobs.
func NewOllamaProvider(baseURL, embedModel, extractModel string, dimensions int) *OllamaProvider {
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		embedModel:   embedModel,
		extractModel: extractModel,
		dimensions:   dimensions,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed embeds a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch sends a batch of texts to Ollama. The returned slice has the
// same length and order as the input.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: p.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

const conceptPrompt = `Extract the key concepts from the following note as a JSON array of short lowercase labels (at most 10). Respond with only the JSON array.

Note:
%s`

// ExtractConcepts asks the extraction model for the note's key concepts.
func (p *OllamaProvider) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.extractModel,
		Prompt: fmt.Sprintf(conceptPrompt, text),
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama generate returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	var concepts []string
	if err := json.Unmarshal([]byte(result.Response), &concepts); err != nil {
		// Some models wrap the array in an object; try {"concepts": [...]}.
		var wrapped struct {
			Concepts []string `json:"concepts"`
		}
		if err2 := json.Unmarshal([]byte(result.Response), &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse concepts from model output: %w", err)
		}
		concepts = wrapped.Concepts
	}
	return dedupe(concepts), nil
}

func dedupe(concepts []string) []string {
	seen := make(map[string]struct{}, len(concepts))
	out := concepts[:0]
	for _, c := range concepts {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Dimensions returns the configured embedding dimensionality.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

// Health checks the Ollama instance via /api/tags.
func (p *OllamaProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health returned %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (p *OllamaProvider) Close() error {
	return nil
}
