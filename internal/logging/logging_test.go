package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid json", Config{Level: "info", Format: "json"}, false},
		{"valid console", Config{Level: "debug", Format: "console"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithStage(ctx, "drafting")
	ctx = WithUnitID(ctx, "scene-7")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 3)
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "drafting", StageFromContext(ctx))
	assert.Equal(t, "scene-7", UnitIDFromContext(ctx))
}

func TestLogger_ContextFieldsOnEntries(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithStage(WithRunID(context.Background(), "run-9"), "revision")

	tl.Info(ctx, "stage committed")

	entries := tl.FilterMessage("stage committed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-9", fields["run.id"])
	assert.Equal(t, "revision", fields["stage"])
}
