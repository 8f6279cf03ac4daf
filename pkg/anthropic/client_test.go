package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

func messageJSON(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	}
}

func TestCreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON(`[{"index":0,"is_valid":true}]`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Classify"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `[{"index":0,"is_valid":true}]`, resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
}

func TestCreateMessage_SystemCacheAndTemperature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		system := req["system"].([]any)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Equal(t, "You classify repair shops", block["text"])
		assert.Equal(t, "ephemeral", block["cache_control"].(map[string]any)["type"])
		assert.InDelta(t, 0.0, req["temperature"], 1e-9)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("ok")) //nolint:errcheck
	}))
	defer ts.Close()

	temp := 0.0
	_, err := NewClient("k", WithBaseURL(ts.URL)).CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   128,
		System:      CachedSystem("You classify repair shops"),
		Messages:    []Message{{Role: "user", Content: "x"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
}

func TestCreateMessage_ErrorClasses(t *testing.T) {
	tests := []struct {
		status    int
		errType   string
		quota     bool
		transient bool
	}{
		{http.StatusUnauthorized, "authentication_error", true, false},
		{http.StatusForbidden, "permission_error", true, false},
		{http.StatusTooManyRequests, "rate_limit_error", false, true},
		{http.StatusInternalServerError, "api_error", false, true},
		{http.StatusBadRequest, "invalid_request_error", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"type":  "error",
					"error": map[string]any{"type": tt.errType, "message": "nope"},
				})
			}))
			defer ts.Close()

			_, err := NewClient("k", WithBaseURL(ts.URL)).CreateMessage(context.Background(), MessageRequest{
				Model: "claude-haiku-4-5-20251001", MaxTokens: 16,
				Messages: []Message{{Role: "user", Content: "x"}},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "anthropic: create message")
			assert.Equal(t, tt.quota, resilience.IsQuotaOrAuth(err))
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestMessageResponse_Text(t *testing.T) {
	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())

	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "[{"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "}]"},
	}}
	assert.Equal(t, "[{}]", resp.Text())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "system", Content: "c"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown"))

	cached := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 1.25+0.1, cached.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 1}.LogCost("claude-haiku-4-5-20251001", "classify")
	})
}
