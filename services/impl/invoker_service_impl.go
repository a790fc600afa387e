package impl

import (
	"context"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// CompositeInvoker dispatches each invocation to the provider-specific
// invoker by backend provider.
type CompositeInvoker struct {
	local services.InvokerService
	cloud services.InvokerService
}

func NewCompositeInvoker(local, cloud services.InvokerService) *CompositeInvoker {
	return &CompositeInvoker{local: local, cloud: cloud}
}

func (c *CompositeInvoker) Invoke(ctx context.Context, backend models.BackendEntry, messages []models.ChatMessage) (*services.InvokeResult, error) {
	if backend.IsLocal() {
		return c.local.Invoke(ctx, backend, messages)
	}
	return c.cloud.Invoke(ctx, backend, messages)
}
