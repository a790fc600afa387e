package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

const (
	openaiProviderName = "openai"

	// authHealthTTL bounds how long a validation verdict is trusted. After
	// expiry the gateway turns optimistic again so a rotated key recovers
	// without a restart.
	authHealthTTL = 5 * time.Minute

	retryBaseDelay = 500 * time.Millisecond
)

// OpenAIInvoker talks to the OpenAI-compatible cloud API. It owns the auth
// health cache: a 401 anywhere poisons cloud availability until the TTL
// lapses, so one bad key does not burn a retry on every request.
type OpenAIInvoker struct {
	cfg          config.OpenAIConfig
	cloudEnabled bool
	httpClient   *http.Client
	logger       *logrus.Logger

	mu            sync.Mutex
	authValidated bool
	authAvailable bool
	authCheckedAt time.Time
}

// NewOpenAIInvoker builds the cloud invoker. cloudEnabled carries the
// routing document's enable_cloud_fallback switch.
func NewOpenAIInvoker(cfg config.OpenAIConfig, cloudEnabled bool, logger *logrus.Logger) *OpenAIInvoker {
	return &OpenAIInvoker{
		cfg:           cfg,
		cloudEnabled:  cloudEnabled,
		httpClient:    &http.Client{},
		logger:        logger,
		authAvailable: true,
	}
}

// CloudAvailable folds the static gates (key presence, env kill switch,
// document switch) with the cached auth health.
func (o *OpenAIInvoker) CloudAvailable() bool {
	if !o.cfg.HasKey() {
		return false
	}
	if o.cfg.FallbackDisabled {
		return false
	}
	if !o.cloudEnabled {
		return false
	}
	return o.authHealthy()
}

// authHealthy returns the cached verdict, optimistically true while no
// validation has run or after the cached one expired.
func (o *OpenAIInvoker) authHealthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.authValidated && time.Since(o.authCheckedAt) > authHealthTTL {
		o.authValidated = false
		o.authAvailable = true
	}
	if !o.authValidated {
		return true
	}
	return o.authAvailable
}

func (o *OpenAIInvoker) markAuthResult(available bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.authValidated = true
	o.authAvailable = available
	o.authCheckedAt = time.Now()
}

// ResetAuthHealth clears the cached verdict. Intended for tests and for
// operators rotating keys at runtime.
func (o *OpenAIInvoker) ResetAuthHealth() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.authValidated = false
	o.authAvailable = true
	o.authCheckedAt = time.Time{}
}

// ValidateAuth probes GET /models with the configured key and records the
// verdict. Without a key it is a no-op; transport errors leave the cache
// untouched so a flaky network cannot poison cloud availability.
func (o *OpenAIInvoker) ValidateAuth(ctx context.Context) error {
	if !o.cfg.HasKey() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.TimeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to build auth probe: %w", err)
	}
	o.setHeaders(req)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		o.markAuthResult(false)
		return fmt.Errorf("cloud credentials rejected with status %d", resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		o.markAuthResult(true)
		return nil
	default:
		return fmt.Errorf("auth probe returned status %d", resp.StatusCode)
	}
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*services.InvokeResult, error) {
	if !o.cfg.HasKey() {
		return nil, services.ErrCloudDisabled
	}
	payload, err := o.buildPayload(backend, messages)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}

		result, err := o.doRequest(ctx, payload, backend.ProviderModelName)
		if err == nil {
			result.LatencyMs = time.Since(start).Milliseconds()
			return result, nil
		}
		lastErr = err

		if ue, ok := services.AsUpstreamError(err); ok && !ue.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		o.logger.WithError(err).WithFields(logrus.Fields{
			"model":   backend.ProviderModelName,
			"attempt": attempt + 1,
		}).Warn("cloud invocation failed, retrying")
	}

	return nil, lastErr
}

// buildPayload assembles the chat body. Reasoning-family models reject the
// temperature parameter, so it is omitted for them; backend params from the
// routing document (e.g. reasoning_effort) pass through verbatim.
func (o *OpenAIInvoker) buildPayload(backend models.BackendEntry, messages []models.ChatMessage) ([]byte, error) {
	body := map[string]any{
		"model":    backend.ProviderModelName,
		"messages": messages,
	}
	if !models.IsReasoningModel(backend.ProviderModelName) {
		body["temperature"] = o.cfg.Temperature
	}
	for k, v := range backend.Params {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cloud request: %w", err)
	}
	return payload, nil
}

func (o *OpenAIInvoker) doRequest(ctx context.Context, payload []byte, modelName string) (*services.InvokeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.TimeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build cloud request: %w", err)
	}
	o.setHeaders(req)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cloud response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			o.markAuthResult(false)
		}
		return nil, &services.UpstreamError{
			Provider:   openaiProviderName,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode cloud response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("cloud response for %s had no choices", modelName)
	}

	return &services.InvokeResult{
		Content:          parsed.Choices[0].Message.Content,
		ProviderModel:    modelName,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (o *OpenAIInvoker) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.Key())
	if o.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", o.cfg.Organization)
	}
	if o.cfg.Project != "" {
		req.Header.Set("OpenAI-Project", o.cfg.Project)
	}
}
