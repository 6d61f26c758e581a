package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChat_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client()).WithBearer("sekrit").WithModel("gpt-4-0613")
	completion, err := client.Chat(context.Background(), []Message{User("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", completion.Content)
	assert.Nil(t, completion.FunctionCall)
}

func TestChat_FunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"","function_call":{"name":"code","arguments":"{\"query\":\"foo\"}"}},"finish_reason":"function_call"}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client()).WithModel("gpt-4-0613")
	completion, err := client.Chat(context.Background(), []Message{User("hi")}, testFunctions())
	require.NoError(t, err)
	require.NotNil(t, completion.FunctionCall)
	assert.Equal(t, "code", completion.FunctionCall.Name)
	assert.JSONEq(t, `{"query":"foo"}`, completion.FunctionCall.Arguments)
}

func testFunctions() []Function {
	return []Function{{Name: "code", Description: "search", Parameters: map[string]any{"type": "object"}}}
}

func TestChat_4xxIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Chat(context.Background(), []Message{User("hi")}, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.True(t, apiErr.Terminal())
}

func TestChat_5xxIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Chat(context.Background(), []Message{User("hi")}, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Terminal())
}

func TestChatStream_ContentDeltas(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	var deltas []string
	completion, err := client.ChatStream(context.Background(), []Message{User("hi")}, nil,
		StreamFunc(func(s string) { deltas = append(deltas, s) }))
	require.NoError(t, err)
	assert.Equal(t, "Hello", completion.Content)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestChatStream_AssemblesFunctionCallFragments(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"function_call":{"name":"code","arguments":"{\"qu"}}}]}`,
		`{"choices":[{"delta":{"function_call":{"arguments":"ery\":\"foo\"}"}}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"function_call"}]}`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	completion, err := client.ChatStream(context.Background(), []Message{User("hi")}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, completion.FunctionCall)
	assert.Equal(t, "code", completion.FunctionCall.Name)
	assert.JSONEq(t, `{"query":"foo"}`, completion.FunctionCall.Arguments)
	assert.Empty(t, completion.Content)
}

func TestChatStream_SkipsMalformedChunks(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		`this is not json`,
		`{"choices":[{"delta":{"content":"!"}}]}`,
	)
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	completion, err := client.ChatStream(context.Background(), []Message{User("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok!", completion.Content)
}
