// Package services holds the HTTP clients for the external collaborators:
// the ingestion side (span and file fetches) and the code-understanding
// service.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"codescout/internal/config"
	"codescout/internal/types"
)

// SpanRequest asks the ingestion side for specific line ranges of a file.
type SpanRequest struct {
	Repo   string   `json:"repo"`
	Path   string   `json:"path"`
	Branch string   `json:"branch,omitempty"`
	Ranges [][2]int `json:"ranges,omitempty"`
	ID     string   `json:"id,omitempty"`
}

// Ingestion talks to the ingestion side, which owns the indexed repository
// contents.
type Ingestion struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Understand talks to the code-understanding service answering one
// question per call.
type Understand struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewIngestion builds the ingestion client from config.
func NewIngestion(cfg config.ServicesConfig, httpClient *http.Client) *Ingestion {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Ingestion{
		baseURL:    cfg.IngestionURL,
		httpClient: httpClient,
		timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// NewUnderstand builds the code-understanding client from config.
func NewUnderstand(cfg config.ServicesConfig, httpClient *http.Client) *Understand {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Understand{
		baseURL:    cfg.UnderstandURL,
		httpClient: httpClient,
		timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// FetchSpans returns the requested code chunks for one file.
func (c *Ingestion) FetchSpans(ctx context.Context, req SpanRequest) ([]types.CodeChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal span request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/span", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build span request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var chunks []types.CodeChunk
	if err := doJSON(c.httpClient, httpReq, &chunks); err != nil {
		return nil, fmt.Errorf("fetch spans for %s: %w", req.Path, err)
	}
	return chunks, nil
}

// FetchFile returns the raw content of one file.
func (c *Ingestion) FetchFile(ctx context.Context, repo, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/file?repo=%s&path=%s", c.baseURL, url.QueryEscape(repo), url.QueryEscape(path))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build file request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fetch file %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("fetch file %s: %s: %s", path, resp.Status, string(b))
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	return string(content), nil
}

// RetrieveCode asks the code-understanding service to answer one question
// against the repository.
func (c *Understand) RetrieveCode(ctx context.Context, query, repo string) (types.CodeUnderstanding, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/retrieve-code?query=%s&repo=%s", c.baseURL, url.QueryEscape(query), url.QueryEscape(repo))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.CodeUnderstanding{}, fmt.Errorf("build retrieve-code request: %w", err)
	}

	var out types.CodeUnderstanding
	if err := doJSON(c.httpClient, httpReq, &out); err != nil {
		return types.CodeUnderstanding{}, fmt.Errorf("retrieve code: %w", err)
	}
	return out, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
