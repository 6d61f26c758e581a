package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is the chat-completions gateway. It is immutable after
// construction; the With* methods return shallow copies so per-call model
// or temperature overrides never race concurrent requests.
type Client struct {
	baseURL     string
	bearer      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient builds a gateway against an OpenAI-shaped endpoint.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (c *Client) WithBearer(token string) *Client {
	cp := *c
	cp.bearer = token
	return &cp
}

func (c *Client) WithModel(model string) *Client {
	cp := *c
	cp.model = model
	return &cp
}

func (c *Client) WithTemperature(t float64) *Client {
	cp := *c
	cp.temperature = t
	return &cp
}

func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string     `json:"model"`
	Temperature float64    `json:"temperature"`
	Messages    []Message  `json:"messages"`
	Functions   []Function `json:"functions,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// Chat performs a non-streaming completion and returns either plain text
// or the function call the model issued.
func (c *Client) Chat(ctx context.Context, msgs []Message, fns []Function) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    msgs,
		Functions:   fns,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.post(ctx, body, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Completion{}, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices in chat response")
	}

	msg := parsed.Choices[0].Message
	if msg.FunctionCall != nil {
		return Completion{FunctionCall: msg.FunctionCall}, nil
	}
	return Completion{Content: msg.Content}, nil
}

// streamDelta mirrors the incremental payload inside choices[].delta.
type streamDelta struct {
	Content      string `json:"content"`
	FunctionCall *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function_call"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

// ChatStream performs a streaming completion. Content deltas are pushed
// to h as they arrive; function-call name/argument fragments accumulate
// until the stream finishes and surface on the returned Completion.
func (c *Client) ChatStream(ctx context.Context, msgs []Message, fns []Function, h StreamHandler) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    msgs,
		Functions:   fns,
		Stream:      true,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.post(ctx, body, true)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var call FunctionCall
	var sawCall bool

	scanner := bufio.NewScanner(resp.Body)
	// Large JSON chunks exceed the default token size.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip invalid JSON chunks rather than aborting the stream.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if h != nil {
				h.OnDelta(delta.Content)
			}
		}
		if delta.FunctionCall != nil {
			sawCall = true
			if delta.FunctionCall.Name != "" {
				call.Name += delta.FunctionCall.Name
			}
			call.Arguments += delta.FunctionCall.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, fmt.Errorf("read stream: %w", err)
	}

	if sawCall {
		return Completion{FunctionCall: &call}, nil
	}
	return Completion{Content: content.String()}, nil
}

func (c *Client) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		log.Error().Int("status", resp.StatusCode).Str("model", c.model).Msg("llm_bad_status")
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
