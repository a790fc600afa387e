package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

const ollamaProviderName = "ollama"

// OllamaInvoker talks to a local Ollama daemon over its native chat API.
// Generation parameters come in two profiles, coder and instruct, picked by
// model name.
type OllamaInvoker struct {
	cfg        config.OllamaConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewOllamaInvoker(cfg config.OllamaConfig, logger *logrus.Logger) *OllamaInvoker {
	return &OllamaInvoker{
		cfg: cfg,
		// No client-level timeout: local generation can legitimately take
		// minutes and the request context bounds every call.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type ollamaChatRequest struct {
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	Stream    bool                 `json:"stream"`
	Options   map[string]any       `json:"options,omitempty"`
	KeepAlive string               `json:"keep_alive,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (o *OllamaInvoker) Invoke(ctx context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*services.InvokeResult, error) {
	params := o.paramsFor(backend.ProviderModelName)

	options := map[string]any{
		"num_ctx":        params.NumCtx,
		"num_predict":    params.NumPredict,
		"temperature":    params.Temperature,
		"top_p":          params.TopP,
		"repeat_penalty": params.RepeatPenalty,
		"seed":           params.Seed,
	}

	reqBody := ollamaChatRequest{
		Model:     backend.ProviderModelName,
		Messages:  messages,
		Stream:    false,
		Options:   options,
		KeepAlive: params.KeepAlive,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ollama request: %w", err)
	}

	url := o.cfg.BaseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &services.UpstreamError{
			Provider:   ollamaProviderName,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	return &services.InvokeResult{
		Content:          parsed.Message.Content,
		ProviderModel:    backend.ProviderModelName,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}

// paramsFor picks the coder profile for code-specialized model names and
// the instruct profile for everything else.
func (o *OllamaInvoker) paramsFor(modelName string) config.OllamaTierParams {
	name := strings.ToLower(modelName)
	if strings.Contains(name, "coder") || strings.Contains(name, "deepseek") || strings.Contains(name, "codestral") {
		return o.cfg.Coder
	}
	return o.cfg.Instruct
}
