// Package embed produces fixed-dimension dense vectors for query and
// snippet text via an OpenAI-shaped embeddings endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codescout/internal/config"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Encoder is the process-wide embedding client. The worker semaphore caps
// concurrent encode calls against the serving endpoint; the model behind
// the endpoint is loaded once, so output is deterministic per input.
type Encoder struct {
	cfg        config.EmbeddingsConfig
	httpClient *http.Client
	workers    chan struct{}
}

// NewEncoder builds an encoder from config. Workers defaults to 1 when
// unset, matching single-threaded intra-op execution.
func NewEncoder(cfg config.EmbeddingsConfig, httpClient *http.Client) *Encoder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Encoder{
		cfg:        cfg,
		httpClient: httpClient,
		workers:    make(chan struct{}, workers),
	}
}

// Dimensions returns the configured embedding dimension.
func (e *Encoder) Dimensions() int { return e.cfg.Dimensions }

// Embed encodes a single text.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch encodes inputs in one request, returning one vector per
// input in order.
func (e *Encoder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}

	select {
	case e.workers <- struct{}{}:
		defer func() { <-e.workers }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reqBody, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	url := e.cfg.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(b))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(parsed.Data), len(inputs))
	}

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		vec := parsed.Data[i].Embedding
		if e.cfg.Dimensions > 0 && len(vec) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.cfg.Dimensions)
		}
		out[i] = vec
	}
	return out, nil
}

// CheckReachability verifies the endpoint responds to a small request.
func (e *Encoder) CheckReachability(ctx context.Context) error {
	if _, err := e.EmbedBatch(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}
