package impl

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// stubGate is a CloudGate pinned to a fixed answer.
type stubGate struct {
	up bool
}

func (s stubGate) CloudAvailable() bool { return s.up }

// stubInvoker scripts invocation outcomes per backend id. Unscripted ids
// fall back to the fallback function when set.
type stubInvoker struct {
	mu           sync.Mutex
	calls        []string
	lastMessages []models.ChatMessage
	byID         map[string]func() (*services.InvokeResult, error)
	fallback     func(backend models.BackendEntry) (*services.InvokeResult, error)
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{byID: make(map[string]func() (*services.InvokeResult, error))}
}

func (s *stubInvoker) on(id string, fn func() (*services.InvokeResult, error)) {
	s.byID[id] = fn
}

func (s *stubInvoker) reply(id, content string) {
	s.on(id, func() (*services.InvokeResult, error) {
		return &services.InvokeResult{Content: content, ProviderModel: id}, nil
	})
}

func (s *stubInvoker) fail(id string, err error) {
	s.on(id, func() (*services.InvokeResult, error) { return nil, err })
}

func (s *stubInvoker) Invoke(_ context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*services.InvokeResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, backend.ID)
	s.lastMessages = messages
	s.mu.Unlock()

	if fn, ok := s.byID[backend.ID]; ok {
		return fn()
	}
	if s.fallback != nil {
		return s.fallback(backend)
	}
	return &services.InvokeResult{Content: "ok", ProviderModel: backend.ProviderModelName}, nil
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubInvoker) calledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// passthroughGpu satisfies GpuAdmission without a broker.
type passthroughGpu struct{}

func (passthroughGpu) Acquire(context.Context) (services.GpuReleaseFunc, error) {
	return func() {}, nil
}

func (passthroughGpu) Metrics(context.Context) services.GpuQueueMetrics {
	return services.GpuQueueMetrics{}
}

func (passthroughGpu) Enabled() bool { return false }

// captureTelemetry records emitted events for assertions.
type captureTelemetry struct {
	mu     sync.Mutex
	events []models.MetricEvent
}

func (c *captureTelemetry) EmitQuery(event models.MetricEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureTelemetry) all() []models.MetricEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.MetricEvent, len(c.events))
	copy(out, c.events)
	return out
}
