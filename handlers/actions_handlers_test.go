package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

func actionsRouter(gw services.GatewayService, invoker services.InvokerService) *gin.Engine {
	h := NewActionHandlers(gw, testRegistry(), invoker, testLogger())
	r := gin.New()
	r.POST("/actions/smoke", h.Smoke)
	r.POST("/actions/test", h.TestModel)
	return r
}

func TestSmoke(t *testing.T) {
	gw := successGateway("smoke output", "local-chat")
	rec := performJSON(t, actionsRouter(gw, &stubDirectInvoker{}), http.MethodPost, "/actions/smoke", map[string]any{})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, true, resp["ok"])

	runs := resp["smoke"].([]any)
	require.Len(t, runs, 2)
	for _, raw := range runs {
		run := raw.(map[string]any)
		assert.Equal(t, "smoke output", run["output"])
		assert.Contains(t, run, "usage")
	}

	// The second canned run is the code one.
	assert.True(t, gw.lastIn.PreferCode)
}

func TestSmokeReportsPerRunErrors(t *testing.T) {
	gw := &stubGateway{err: errors.New("ollama unreachable")}
	rec := performJSON(t, actionsRouter(gw, &stubDirectInvoker{}), http.MethodPost, "/actions/smoke", map[string]any{})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, true, resp["ok"])

	runs := resp["smoke"].([]any)
	require.Len(t, runs, 2)
	for _, raw := range runs {
		run := raw.(map[string]any)
		assert.Contains(t, run["error"], "ollama unreachable")
	}
}

func TestTestModelResolvesRegistryID(t *testing.T) {
	inv := &stubDirectInvoker{result: &services.InvokeResult{Content: "pong", LatencyMs: 12}}
	rec := performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
		"model": "local-chat",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local-chat", inv.lastBackend.ID)
	assert.Equal(t, models.ProviderLocalGPU, inv.lastBackend.Provider)
	assert.Equal(t, "llama-3.1-8b-instruct", inv.lastBackend.ProviderModelName)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "local-chat", resp["model"])
	assert.Equal(t, "pong", resp["preview"])
	assert.EqualValues(t, 12, resp["latency_ms"])
}

func TestTestModelSyntheticBackends(t *testing.T) {
	tests := []struct {
		model        string
		wantProvider models.Provider
	}{
		{"hermes3:8b", models.ProviderLocalGPU},
		{"gpt-4o", models.ProviderRemoteCloud},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			inv := &stubDirectInvoker{result: &services.InvokeResult{Content: "ok"}}
			rec := performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
				"model": tt.model,
			})

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.model, inv.lastBackend.ID)
			assert.Equal(t, tt.wantProvider, inv.lastBackend.Provider)
			assert.Equal(t, tt.model, inv.lastBackend.ProviderModelName)
		})
	}
}

func TestTestModelDefaultPrompts(t *testing.T) {
	tests := []struct {
		model    string
		wantCode bool
	}{
		{"gpt-5.2-codex-mini", true},
		{"qwen2.5-coder:14b", true},
		{"local-chat", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			inv := &stubDirectInvoker{result: &services.InvokeResult{Content: "ok"}}
			performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
				"model": tt.model,
			})

			require.Len(t, inv.lastMsgs, 1)
			isCode := strings.Contains(inv.lastMsgs[0].Content, "Python function")
			assert.Equal(t, tt.wantCode, isCode)
		})
	}
}

func TestTestModelCustomPrompt(t *testing.T) {
	inv := &stubDirectInvoker{result: &services.InvokeResult{Content: "ok"}}
	performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
		"model":  "local-chat",
		"prompt": "Say exactly: ping",
	})

	require.Len(t, inv.lastMsgs, 1)
	assert.Equal(t, "Say exactly: ping", inv.lastMsgs[0].Content)
}

func TestTestModelInvokeFailure(t *testing.T) {
	inv := &stubDirectInvoker{err: errors.New("connection refused")}
	rec := performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
		"model": "local-chat",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, false, resp["ok"])
	assert.Contains(t, resp["error"], "connection refused")
}

func TestTestModelTruncatesPreview(t *testing.T) {
	inv := &stubDirectInvoker{result: &services.InvokeResult{Content: strings.Repeat("x", 600)}}
	rec := performJSON(t, actionsRouter(&stubGateway{}, inv), http.MethodPost, "/actions/test", map[string]any{
		"model": "local-chat",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp["preview"], 500)
}

func TestTestModelRequiresModel(t *testing.T) {
	rec := performJSON(t, actionsRouter(&stubGateway{}, &stubDirectInvoker{}), http.MethodPost, "/actions/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
