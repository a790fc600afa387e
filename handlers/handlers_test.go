package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
	"github.com/tas-llm-gateway/services/impl"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRegistry() services.RegistryService {
	return impl.NewRegistryService(config.DefaultRouterDocument(), config.ModelOverrides{})
}

// stubGateway scripts the pipeline outcome and records the inputs it saw.
type stubGateway struct {
	outcome  *services.RouteOutcome
	err      error
	decision services.RouteDecision
	lastIn   services.RouteInput
}

func (s *stubGateway) Route(_ context.Context, in services.RouteInput) (*services.RouteOutcome, error) {
	s.lastIn = in
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

func (s *stubGateway) Decide(_ context.Context, in services.RouteInput) services.RouteDecision {
	s.lastIn = in
	return s.decision
}

func successGateway(output, backendID string) *stubGateway {
	return &stubGateway{
		outcome: &services.RouteOutcome{
			Output: output,
			Usage: models.UsageRecord{
				PromptTokensEst:     10,
				CompletionTokensEst: 20,
				TotalTokensEst:      30,
				ResolvedBackendID:   backendID,
				LatencyMs:           42,
				RoutingMeta:         models.RoutingMeta{Task: models.TaskSimpleQA, Complexity: models.ComplexityLow},
				Attempts:            []models.Attempt{{BackendID: backendID, Status: models.AttemptSuccess}},
				Tier:                models.TierLocal,
				Status:              models.StatusSuccess,
			},
		},
	}
}

type stubGpu struct {
	metrics services.GpuQueueMetrics
}

func (s stubGpu) Acquire(context.Context) (services.GpuReleaseFunc, error) { return func() {}, nil }
func (s stubGpu) Metrics(context.Context) services.GpuQueueMetrics        { return s.metrics }
func (s stubGpu) Enabled() bool                                           { return s.metrics.Enabled }

type stubGate struct {
	up bool
}

func (s stubGate) CloudAvailable() bool { return s.up }

// stubDirectInvoker scripts /actions/test probes.
type stubDirectInvoker struct {
	result      *services.InvokeResult
	err         error
	lastBackend models.BackendEntry
	lastMsgs    []models.ChatMessage
}

func (s *stubDirectInvoker) Invoke(_ context.Context, backend models.BackendEntry, msgs []models.ChatMessage) (*services.InvokeResult, error) {
	s.lastBackend = backend
	s.lastMsgs = msgs
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func init() {
	gin.SetMode(gin.TestMode)
}
