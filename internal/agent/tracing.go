package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/McKrispy/Ageeeent/internal/brief"
)

const tracerName = "github.com/McKrispy/Ageeeent/internal/agent"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startRunSpan 为一次完整运行打开 span。
func startRunSpan(ctx context.Context, b *brief.Brief) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session_id", b.SessionID()),
	))
}

func endRunSpan(span trace.Span, status Status, err error) {
	span.SetAttributes(attribute.String("status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(status))
	}
	span.End()
}

func startStageSpan(ctx context.Context, name string, b *brief.Brief) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("session_id", b.SessionID()),
		attribute.Int("cycle", b.Cycle()),
	))
}

func endStageSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// startCycleSpan 为单个子目标的一轮循环打开 span。
func startCycleSpan(ctx context.Context, b *brief.Brief, subGoalID string, cycle int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.cycle", trace.WithAttributes(
		attribute.String("session_id", b.SessionID()),
		attribute.Int("cycle", cycle),
		attribute.String("subgoal_id", subGoalID),
	))
}

func endCycleSpan(span trace.Span, passed bool, err error) {
	span.SetAttributes(attribute.Bool("passed", passed))
	endStageSpan(span, err)
}
