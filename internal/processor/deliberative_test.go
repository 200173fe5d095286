package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/models"
)

func minMax(vals []float64) (float64, float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func TestAggregation_Bounds(t *testing.T) {
	cases := [][]float64{
		{0.9, 0.8, 0.7, 0.6},
		{1, 1, 1, 1},
		{0.5, 0.5, 0.5, 0.5},
		{1, 1, 1, 0.001},
		{0.2, 0.95, 0.4, 0.85},
	}

	for _, stages := range cases {
		lo, hi := minMax(stages)

		g := AggregateGeometric.Aggregate(stages)
		assert.GreaterOrEqual(t, g, lo-1e-9, "geometric %v", stages)
		assert.LessOrEqual(t, g, hi+1e-9, "geometric %v", stages)

		p := AggregateProduct.Aggregate(stages)
		assert.LessOrEqual(t, p, lo+1e-9, "product %v", stages)

		assert.InDelta(t, lo, AggregateMinimum.Aggregate(stages), 1e-9)
	}
}

func TestAggregation_NearZeroStageDominates(t *testing.T) {
	g := AggregateGeometric.Aggregate([]float64{1, 1, 1, 1e-8})
	assert.Less(t, g, 0.05)
	assert.Greater(t, g, 0.0)
}

func TestParseAggregation(t *testing.T) {
	a, err := ParseAggregation("Product")
	require.NoError(t, err)
	assert.Equal(t, AggregateProduct, a)

	a, err = ParseAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregateGeometric, a)

	_, err = ParseAggregation("harmonic")
	assert.Error(t, err)
}

func TestDeliberative_Process(t *testing.T) {
	d := NewDeliberative(AggregateGeometric)
	in := models.NewCycleInput(
		"Heat causes expansion. The Bridge requires maintenance. Expansion is observed daily.",
		"reduce stress",
	)
	in.Data["temperature"] = 41

	out, err := d.Process(context.Background(), in)
	require.NoError(t, err)
	require.True(t, out.Success)

	conf := out.Result["confidence"].(float64)
	stages := out.Result["stages"].(StageConfidence)
	lo, hi := minMax(stages.values())
	assert.GreaterOrEqual(t, conf, lo-1e-9)
	assert.LessOrEqual(t, conf, hi+1e-9)

	assert.NotEmpty(t, out.Result["conclusion"])
	assert.Contains(t, out.Result["entities"], "bridge")
	assert.Contains(t, out.Result["entities"], "temperature")
	assert.Contains(t, out.Result["relations"], Relation{Subject: "heat", Verb: "causes", Object: "expansion"})
	assert.Equal(t, []string{"reduce stress"}, out.Result["goals"])
}

func TestDeliberative_ProductNeverExceedsWeakestStage(t *testing.T) {
	d := NewDeliberative(AggregateProduct)
	in := models.NewCycleInput("Rain causes floods. Floods do not reach the hill.", "stay dry")

	out, err := d.Process(context.Background(), in)
	require.NoError(t, err)

	lo, _ := minMax(out.Result["stages"].(StageConfidence).values())
	assert.LessOrEqual(t, out.Result["confidence"].(float64), lo+1e-9)
}

func TestDeliberative_EmptyInput(t *testing.T) {
	d := NewDeliberative("")

	out, err := d.Process(context.Background(), models.NewCycleInput(""))
	require.NoError(t, err)
	assert.Equal(t, "insufficient information", out.Result["conclusion"])
	assert.Less(t, out.Result["confidence"].(float64), 0.2)
	assert.Equal(t, "geometric", out.Result["aggregation"])
}

func TestDeliberative_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDeliberative(AggregateGeometric).Process(ctx, models.NewCycleInput("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_CounterEvidenceLowersScore(t *testing.T) {
	hyps := []Hypothesis{
		{Statement: "a", Terms: []string{"alpha"}},
		{Statement: "b", Terms: []string{"beta"}},
	}
	in := models.NewCycleInput("alpha works. alpha holds. beta does not work.")

	coverage := evaluate(hyps, in)
	assert.InDelta(t, 1.0, coverage, 1e-9)
	assert.Equal(t, 2, hyps[0].Support)
	assert.Equal(t, 1, hyps[1].Counter)
	assert.Greater(t, hyps[0].Score, hyps[1].Score)

	best, conf := conclude(hyps)
	assert.Equal(t, "a", best.Statement)
	assert.Greater(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)
}
