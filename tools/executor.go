// Tool Executor with timeout enforcement.
//
// Information Hiding:
// - Deadline handling hidden
// - Argument validation and panic containment hidden
// - Metrics and logging for each invocation hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/agentdock/internal/logger"
	"github.com/richinex/agentdock/metrics"
)

// Executor runs one tool invocation under a deadline. Failures are not retried.
type Executor struct {
	config ToolConfig
	logger *slog.Logger
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig) *Executor {
	return &Executor{config: config, logger: logger.Named("tools")}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig())
}

// WithLogger sets the executor's logger.
func (e *Executor) WithLogger(l *slog.Logger) *Executor {
	e.logger = l
	return e
}

// Execute validates the arguments and runs the tool.
// The returned result is always usable as model input.
func (e *Executor) Execute(ctx context.Context, tool Tool, args map[string]any) (result ToolResult) {
	desc := tool.Descriptor()
	kind := desc.Binding.Kind()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			result = FailureResultf("tool '%s' panicked: %v", desc.Name, p)
		}
		metrics.ToolInvocation(kind, result.Success(), time.Since(start))
		if result.Success() {
			e.logger.Debug("tool succeeded", "tool", desc.Name, "kind", kind, "elapsed", time.Since(start))
		} else {
			e.logger.Warn("tool failed", "tool", desc.Name, "kind", kind, "error", result.Error)
		}
	}()

	if err := desc.Parameters.Validate(args); err != nil {
		return FailureResult(err)
	}

	if secs := e.config.Timeout(); secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = FailureResult(err)
	}
	if !result.Success() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result = FailureResult(fmt.Errorf("tool '%s' timed out after %ds", desc.Name, e.config.Timeout()))
	}
	return result
}
