package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validPlanYAML = `
protagonist: Mira
gender: f
characters:
  Aldo: m
stages:
  - name: draft
    type: generation
    first_person: true
    units:
      - id: scene-1
        prompt: "Write the opening scene."
        system: "You are a novelist."
      - id: scene-2
        prompt: "Write the second scene."
  - name: polish
    type: repair
`

func TestLoadPlanValid(t *testing.T) {
	plan, err := loadPlan(writePlan(t, validPlanYAML))
	require.NoError(t, err)

	assert.Equal(t, "Mira", plan.Protagonist)
	assert.Equal(t, "f", plan.Gender)
	assert.Equal(t, map[string]string{"Aldo": "m"}, plan.Characters)
	require.Len(t, plan.Stages, 2)

	draft := plan.Stages[0]
	assert.Equal(t, "draft", draft.Name)
	assert.Equal(t, "generation", draft.Type)
	assert.True(t, draft.FirstPerson)
	require.Len(t, draft.Units, 2)
	assert.Equal(t, "scene-1", draft.Units[0].ID)
	assert.Equal(t, "You are a novelist.", draft.Units[0].System)

	assert.Equal(t, "repair", plan.Stages[1].Type)
	assert.True(t, plan.firstPerson())
}

func TestLoadPlanMissingFile(t *testing.T) {
	_, err := loadPlan(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadPlanInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no stages",
			yaml: `protagonist: Mira`,
			want: "no stages",
		},
		{
			name: "bad gender",
			yaml: "gender: x\nstages:\n  - name: s\n    type: repair\n",
			want: "gender",
		},
		{
			name: "unknown stage type",
			yaml: "stages:\n  - name: s\n    type: review\n",
			want: "unknown type",
		},
		{
			name: "generation without units",
			yaml: "stages:\n  - name: s\n    type: generation\n",
			want: "no units",
		},
		{
			name: "duplicate stage names",
			yaml: "stages:\n  - name: s\n    type: repair\n  - name: s\n    type: repair\n",
			want: "duplicate stage",
		},
		{
			name: "duplicate unit ids",
			yaml: "stages:\n  - name: a\n    type: generation\n    units:\n      - id: u1\n        prompt: p\n  - name: b\n    type: generation\n    units:\n      - id: u1\n        prompt: p\n",
			want: "duplicate unit",
		},
		{
			name: "unit without prompt",
			yaml: "stages:\n  - name: a\n    type: generation\n    units:\n      - id: u1\n",
			want: "no prompt",
		},
		{
			name: "repair with units",
			yaml: "stages:\n  - name: a\n    type: repair\n    units:\n      - id: u1\n        prompt: p\n",
			want: "must not list units",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadPlan(writePlan(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnitSpecIndex(t *testing.T) {
	plan, err := loadPlan(writePlan(t, validPlanYAML))
	require.NoError(t, err)

	idx := plan.unitSpecIndex()
	require.Len(t, idx, 2)
	assert.Equal(t, "Write the opening scene.", idx["scene-1"].unit.Prompt)
	assert.Equal(t, "draft", idx["scene-1"].stage.Name)
}
