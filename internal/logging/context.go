package logging

import (
	"context"

	"go.uber.org/zap"
)

type runCtxKey struct{}
type stageCtxKey struct{}
type unitCtxKey struct{}

// WithRunID attaches the run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run ID or "".
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithStage attaches the current stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the stage name or "".
func StageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(stageCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUnitID attaches the content-unit identifier to the context.
func WithUnitID(ctx context.Context, unitID string) context.Context {
	return context.WithValue(ctx, unitCtxKey{}, unitID)
}

// UnitIDFromContext returns the unit ID or "".
func UnitIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(unitCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if unitID := UnitIDFromContext(ctx); unitID != "" {
		fields = append(fields, zap.String("unit.id", unitID))
	}
	return fields
}
