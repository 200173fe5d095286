package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/models"
)

func TestEvolutionary_TracksElite(t *testing.T) {
	e := NewEvolutionary()
	ctx := context.Background()

	in := models.NewCycleInput("")
	in.Data["candidates"] = []any{
		map[string]any{"name": "a", "fitness": 0.2},
		map[string]any{"name": "b", "fitness": 0.6},
	}
	out, err := e.Process(ctx, in)
	require.NoError(t, err)
	evo := out.Result["evolution"].(map[string]any)
	assert.Equal(t, uint64(1), evo["generation"])
	assert.Equal(t, 2, evo["variations_tested"])
	assert.Equal(t, 2, evo["improvements"])
	assert.Equal(t, Variant{Name: "b", Fitness: 0.6}, evo["best"])

	in.Data["candidates"] = map[string]any{"c": 0.5, "d": 0.9}
	out, err = e.Process(ctx, in)
	require.NoError(t, err)
	evo = out.Result["evolution"].(map[string]any)
	assert.Equal(t, uint64(2), evo["generation"])
	assert.Equal(t, 1, evo["improvements"])
	assert.Equal(t, "d", e.Elite()[0].Name)
}

func TestEvolutionary_EliteCapped(t *testing.T) {
	pool := []Variant{
		{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}, {"e", 5}, {"f", 6}, {"a", 7},
	}
	elite := selectElite(pool)
	require.Len(t, elite, eliteSize)
	assert.Equal(t, Variant{Name: "a", Fitness: 7}, elite[0])
}

func TestEvolutionary_InvalidCandidates(t *testing.T) {
	in := models.NewCycleInput("")
	in.Data["candidates"] = []any{"nope"}
	_, err := NewEvolutionary().Process(context.Background(), in)
	assert.Error(t, err)
}

func TestTransformative_DetectsShift(t *testing.T) {
	tr := NewTransformative()
	ctx := context.Background()

	in := models.NewCycleInput("")
	in.Data["capabilities"] = []any{"see", "hear", "walk", "talk"}
	out, err := tr.Process(ctx, in)
	require.NoError(t, err)
	summary := out.Result["transformation"].(map[string]any)
	assert.Equal(t, 4, summary["capabilities_transformed"])
	assert.Equal(t, 0, summary["paradigm_shifts"])

	in.Data["capabilities"] = []string{"see", "hear", "walk", "talk", "read"}
	out, err = tr.Process(ctx, in)
	require.NoError(t, err)
	summary = out.Result["transformation"].(map[string]any)
	assert.Equal(t, []string{"read"}, summary["added"])
	assert.Equal(t, 0, summary["paradigm_shifts"])

	in.Data["capabilities"] = []string{"fly", "swim", "see"}
	out, err = tr.Process(ctx, in)
	require.NoError(t, err)
	summary = out.Result["transformation"].(map[string]any)
	assert.Equal(t, 1, summary["paradigm_shifts"])
	assert.Equal(t, 3, summary["capabilities"])
}

func TestTranscendent_EmergentThemes(t *testing.T) {
	tr := NewTranscendent()
	ctx := context.Background()

	var out *models.CycleOutput
	var err error
	for i := 0; i < themeRecurrence; i++ {
		out, err = tr.Process(ctx, models.NewCycleInput("harmony everywhere"))
		require.NoError(t, err)
	}
	summary := out.Result["transcendence"].(map[string]any)
	assert.Equal(t, 2, summary["emergent_properties"])
	assert.Equal(t, 0, summary["new_capabilities_discovered"])
	assert.Equal(t, []string{"everywhere", "harmony"}, tr.Themes())

	out, err = tr.Process(ctx, models.NewCycleInput("entirely novel vocabulary"))
	require.NoError(t, err)
	summary = out.Result["transcendence"].(map[string]any)
	assert.Equal(t, 3, summary["new_capabilities_discovered"])
	assert.Equal(t, 1, summary["paradigm_shifts"])
}
