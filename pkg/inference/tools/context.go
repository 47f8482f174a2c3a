package tools

import (
	"context"

	"github.com/go-go-golems/docagent/pkg/conversation"
)

type currentToolCallKey struct{}
type dryRunKey struct{}

// WithCurrentToolCall annotates context with the call being executed.
func WithCurrentToolCall(ctx context.Context, call conversation.ToolCall) context.Context {
	return context.WithValue(ctx, currentToolCallKey{}, call)
}

func CurrentToolCallFromContext(ctx context.Context) (conversation.ToolCall, bool) {
	if ctx == nil {
		return conversation.ToolCall{}, false
	}
	call, ok := ctx.Value(currentToolCallKey{}).(conversation.ToolCall)
	return call, ok
}

func withDryRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, dryRunKey{}, true)
}

// IsDryRun tells a binding its writes will be discarded.
func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(dryRunKey{}).(bool)
	return v
}
