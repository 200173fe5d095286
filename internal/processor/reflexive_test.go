package processor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/models"
)

func TestReflexive_DangerFiresReflex(t *testing.T) {
	r := NewReflexive()

	out, err := r.Process(context.Background(), models.NewCycleInput("DANGER ahead"))
	require.NoError(t, err)
	require.True(t, out.Success)

	reflex, ok := out.Result["reflex"].(map[string]any)
	require.True(t, ok, "expected reflex entry")
	assert.Equal(t, "danger", reflex["trigger"])
	assert.Equal(t, "withdraw", reflex["action"])
	assert.Equal(t, models.LoopTypeReflexive, out.LoopType)
	assert.Equal(t, uint64(1), r.Fired())
}

func TestReflexive_NoTrigger(t *testing.T) {
	r := NewReflexive()

	out, err := r.Process(context.Background(), models.NewCycleInput("a quiet afternoon"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "none", out.Result["action"])
	assert.NotContains(t, out.Result, "reflex")
	assert.Zero(t, r.Fired())
}

func TestReflexive_MatchesDataValues(t *testing.T) {
	r := NewReflexive()
	in := models.NewCycleInput("")
	in.Data["sensor"] = "collision imminent"

	out, err := r.Process(context.Background(), in)
	require.NoError(t, err)
	reflex := out.Result["reflex"].(map[string]any)
	assert.Equal(t, "brake", reflex["action"])
}

func TestReflexive_ExtraTriggersOverride(t *testing.T) {
	r := NewReflexive(
		Trigger{Pattern: "Fire", Action: "extinguish"},
		Trigger{Pattern: "overheat", Action: "throttle", Priority: "high"},
	)

	out, err := r.Process(context.Background(), models.NewCycleInput("fire in the server room"))
	require.NoError(t, err)
	assert.Equal(t, "extinguish", out.Result["reflex"].(map[string]any)["action"])

	out, err = r.Process(context.Background(), models.NewCycleInput("cpu overheat"))
	require.NoError(t, err)
	assert.Equal(t, "throttle", out.Result["reflex"].(map[string]any)["action"])

	assert.Len(t, r.Triggers(), len(DefaultTriggers())+1)
}

func TestLoadTriggers(t *testing.T) {
	doc := `
triggers:
  - pattern: overheat
    action: throttle
    priority: high
  - pattern: flood
    action: raise
`
	triggers, err := LoadTriggers(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, Trigger{Pattern: "overheat", Action: "throttle", Priority: "high"}, triggers[0])
	assert.Equal(t, "raise", triggers[1].Action)
}

func TestLoadTriggers_Invalid(t *testing.T) {
	_, err := LoadTriggers(strings.NewReader("triggers:\n  - pattern: x\n"))
	assert.Error(t, err)

	_, err = LoadTriggers(strings.NewReader("triggers: [oops"))
	assert.Error(t, err)

	triggers, err := LoadTriggers(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, triggers)
}
