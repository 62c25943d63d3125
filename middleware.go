package mcpbridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coder/mcpbridge/metrics"
	"github.com/coder/mcpbridge/provider"
	"github.com/coder/mcpbridge/tracing"
)

// toolMiddleware instruments every tool call of a provider: one span, the
// tool call metrics and a log line. Panics in handlers are turned into error
// results.
func toolMiddleware(providerName string, logger slog.Logger, m *metrics.Metrics, tracer trace.Tracer) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcplib.CallToolRequest) (res *mcplib.CallToolResult, outErr error) {
			tool := req.Params.Name
			callID := uuid.NewString()

			attrs := []attribute.KeyValue{
				attribute.String(tracing.Provider, providerName),
				attribute.String(tracing.ToolName, tool),
				attribute.String(tracing.CallID, callID),
			}
			ctx, span := tracer.Start(ctx, "ToolCall", trace.WithAttributes(attrs...))
			ctx = tracing.WithToolCallAttributesInContext(ctx, attrs)
			ctx, outcome := provider.WithCallOutcome(ctx)

			log := logger.With(slog.F("tool", tool), slog.F("call_id", callID))

			if m != nil {
				m.ToolCallsInflight.WithLabelValues(providerName).Inc()
			}
			start := time.Now()

			defer func() {
				var status string
				if r := recover(); r != nil {
					status = metrics.ToolCallStatusPanic
					log.Error(ctx, "tool handler panicked", slog.F("panic", r), slog.F("stack", string(debug.Stack())))
					res, outErr = mcplib.NewToolResultError(fmt.Sprintf("internal error in tool %s", tool)), nil
					span.SetStatus(codes.Error, fmt.Sprint(r))
				} else {
					status = callStatus(res, outErr, outcome)
				}

				elapsed := time.Since(start)
				if m != nil {
					m.ToolCallsInflight.WithLabelValues(providerName).Dec()
					m.ToolCallCount.WithLabelValues(providerName, tool, status).Inc()
					m.ToolCallDuration.WithLabelValues(providerName, tool).Observe(elapsed.Seconds())
				}

				span.SetAttributes(attribute.Bool(tracing.IsError, status != metrics.ToolCallStatusOK))
				fields := []any{slog.F("status", status), slog.F("duration", elapsed)}
				switch status {
				case metrics.ToolCallStatusOK:
					log.Debug(ctx, "tool call completed", fields...)
				case metrics.ToolCallStatusInvalid:
					log.Info(ctx, "tool call rejected", append(fields, slog.Error(outcome.Err()))...)
				case metrics.ToolCallStatusError:
					err := outErr
					if err == nil {
						err = outcome.Err()
					}
					if err != nil {
						span.SetStatus(codes.Error, err.Error())
					}
					log.Warn(ctx, "tool call failed", append(fields, slog.Error(err))...)
				}
				span.End()
			}()

			return next(ctx, req)
		}
	}
}

func callStatus(res *mcplib.CallToolResult, err error, outcome *provider.CallOutcome) string {
	switch {
	case err != nil:
		return metrics.ToolCallStatusError
	case outcome.Invalid():
		return metrics.ToolCallStatusInvalid
	case outcome.Err() != nil, res != nil && res.IsError:
		return metrics.ToolCallStatusError
	default:
		return metrics.ToolCallStatusOK
	}
}
