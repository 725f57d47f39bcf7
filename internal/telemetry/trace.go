package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GoalAttributes identifies a goal on a span
type GoalAttributes struct {
	Name        string
	UniqueName  string
	GoalSetID   string
	Environment string
	Repo        string
	SHA         string
}

// StartGoalSpan creates the root span of a goal execution.
//
// Usage:
//
//	ctx, span := telemetry.StartGoalSpan(ctx, telemetry.GoalAttributes{Name: "build"})
//	defer span.End()
func StartGoalSpan(ctx context.Context, g GoalAttributes) (context.Context, trace.Span) {
	ctx, span := tracer("goals").Start(ctx, "goal."+g.Name)

	span.SetAttributes(
		attribute.String("goal.name", g.Name),
		attribute.String("goal.unique_name", g.UniqueName),
		attribute.String("goal.set_id", g.GoalSetID),
		attribute.String("goal.environment", g.Environment),
		attribute.String("repo", g.Repo),
		attribute.String("sha", g.SHA),
		attribute.String("component", "orchestrator"),
	)

	return ctx, span
}

// StartStageSpan creates a span for one orchestrator stage such as
// "executing pre-goal hook"
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	ctx, span := tracer("goals").Start(ctx, "stage."+stage)

	span.SetAttributes(
		attribute.String("stage", stage),
		attribute.String("component", "orchestrator"),
	)

	return ctx, span
}

// StartContainerSpan creates a span covering the life of one container.
// role is primary or sidecar.
func StartContainerSpan(ctx context.Context, name, image, role string) (context.Context, trace.Span) {
	ctx, span := tracer("containers").Start(ctx, "container."+name)

	span.SetAttributes(
		attribute.String("container.name", name),
		attribute.String("container.image", image),
		attribute.String("container.role", role),
		attribute.String("component", "container"),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
//
// Usage:
//
//	telemetry.RecordSuccess(span,
//	    attribute.String("goal.state", "success"),
//	)
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
// A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}
