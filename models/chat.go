package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is one turn of an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the /v1/chat/completions request body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages" binding:"required,min=1"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionChoice is one generated alternative (the gateway always
// returns exactly one).
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the /v1/chat/completions response body.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatUsage              `json:"usage"`
}

// RouteRequest is the native /route request body. Budget, PreferCode,
// Critical and LatencyMsMax are request-level overrides applied after
// classification.
type RouteRequest struct {
	Messages     []ChatMessage `json:"messages" binding:"required,min=1"`
	Budget       string        `json:"budget,omitempty"`
	PreferCode   bool          `json:"prefer_code,omitempty"`
	Critical     bool          `json:"critical,omitempty"`
	LatencyMsMax int           `json:"latency_ms_max,omitempty"`
}

// RouteResponse is the native /route response body.
type RouteResponse struct {
	Output string      `json:"output"`
	Usage  UsageRecord `json:"usage"`
}

// DebugDecisionResponse is the /debug/router_decision dry-run result.
// Wire names keep the model_id vocabulary for client compatibility.
type DebugDecisionResponse struct {
	RoutingMeta       RoutingMeta `json:"routing_meta"`
	SelectedBackendID string      `json:"selected_model_id"`
	FallbackAvailable bool        `json:"fallback_available"`
	AvailableModels   []string    `json:"available_models"`
}

// ModelInfo is one entry of the /v1/models listing.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// ModelList is the /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ResponsesRequest is the /v1/responses request body. Input accepts either
// a plain string or a list of {role, content} items.
type ResponsesRequest struct {
	Model        string          `json:"model"`
	Input        json.RawMessage `json:"input" binding:"required"`
	Instructions string          `json:"instructions,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
}

// InputMessages normalizes the polymorphic input field into chat messages,
// prepending instructions as a system turn when present. Accepted forms:
// a plain string, a {role, content} list, and the Codex CLI item list where
// content is a list of typed text parts.
func (r ResponsesRequest) InputMessages() ([]ChatMessage, error) {
	var msgs []ChatMessage
	if r.Instructions != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: r.Instructions})
	}

	var text string
	if err := json.Unmarshal(r.Input, &text); err == nil {
		return append(msgs, ChatMessage{Role: "user", Content: text}), nil
	}

	var items []responsesInputItem
	if err := json.Unmarshal(r.Input, &items); err != nil {
		return nil, fmt.Errorf("input must be a string or a message list: %w", err)
	}
	for _, item := range items {
		msg, err := item.toChatMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

type responsesInputItem struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (it responsesInputItem) toChatMessage() (ChatMessage, error) {
	role := it.Role
	if role == "" {
		role = "user"
	}

	var content string
	if err := json.Unmarshal(it.Content, &content); err == nil {
		return ChatMessage{Role: role, Content: content}, nil
	}

	var parts []ResponsesContentPart
	if err := json.Unmarshal(it.Content, &parts); err != nil {
		return ChatMessage{}, fmt.Errorf("unsupported input content: %s", string(it.Content))
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return ChatMessage{Role: role, Content: strings.Join(texts, "\n")}, nil
}

// ResponsesContentPart is one content block of a Responses API output item.
type ResponsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesOutputItem is one output item of a Responses API response.
type ResponsesOutputItem struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Status  string                 `json:"status"`
	Role    string                 `json:"role"`
	Content []ResponsesContentPart `json:"content"`
}

// ResponsesResponse is the non-streaming /v1/responses body, and the
// payload of the response.created / response.completed stream events.
type ResponsesResponse struct {
	ID        string                `json:"id"`
	Object    string                `json:"object"`
	CreatedAt int64                 `json:"created_at"`
	Status    string                `json:"status"`
	Model     string                `json:"model"`
	Output    []ResponsesOutputItem `json:"output"`
	Usage     *ChatUsage            `json:"usage,omitempty"`
}

// APIError is the wire shape of every gateway error.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse wraps APIError with a timestamp, matching the response
// shape clients of this service family already parse.
type ErrorResponse struct {
	Error     APIError `json:"error"`
	Timestamp string   `json:"timestamp"`
}

// NewErrorResponse builds the standard error body.
func NewErrorResponse(message, errType, code string) ErrorResponse {
	return ErrorResponse{
		Error: APIError{
			Message: message,
			Type:    errType,
			Code:    code,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
