package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/models"
)

func experienceInput(action string, reward float64, consolidate bool) *models.CycleInput {
	in := models.NewCycleInput("")
	in.Data["experience"] = map[string]any{
		"state":  "s0",
		"action": action,
		"reward": reward,
	}
	if consolidate {
		in.Data["consolidate"] = true
	}
	return in
}

func TestAdaptive_Consolidation(t *testing.T) {
	tests := []struct {
		name    string
		rewards []float64
		skills  int
	}{
		{name: "three rewarding samples", rewards: []float64{0.9, 0.8, 0.7}, skills: 1},
		{name: "rewards above one clamp", rewards: []float64{3, 2, 2}, skills: 1},
		{name: "too few samples", rewards: []float64{0.9, 0.9}, skills: 0},
		{name: "mean at threshold", rewards: []float64{0.5, 0.5, 0.5}, skills: 0},
		{name: "mean below threshold", rewards: []float64{0.1, 0.9, 0.2}, skills: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdaptive(AdaptiveConfig{})
			for _, r := range tt.rewards {
				a.Record(Experience{Action: "grasp", Reward: r})
			}
			learned := a.Consolidate()
			assert.Len(t, learned, tt.skills)
			assert.Equal(t, len(tt.rewards), a.Buffered())
			assert.Zero(t, a.Pending())

			skills := a.TopSkills(10)
			require.Len(t, skills, tt.skills)
			for _, s := range skills {
				assert.Equal(t, "grasp", s.Name)
				assert.GreaterOrEqual(t, s.SuccessRate, 0.0)
				assert.LessOrEqual(t, s.SuccessRate, 1.0)
			}
		})
	}
}

func TestAdaptive_ProcessConsolidatesOnFlag(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{})
	ctx := context.Background()

	for _, r := range []float64{0.8, 0.9} {
		out, err := a.Process(ctx, experienceInput("reach", r, false))
		require.NoError(t, err)
		status := out.Result["learning_status"].(map[string]any)
		assert.Equal(t, 0, status["skills_learned"])
	}

	out, err := a.Process(ctx, experienceInput("reach", 1.0, true))
	require.NoError(t, err)
	status := out.Result["learning_status"].(map[string]any)
	assert.Equal(t, 1, status["skills_learned"])
	assert.Equal(t, 1, status["new_skills_this_cycle"])
	assert.Equal(t, 3, status["experiences_stored"])
	assert.Equal(t, []string{"reach"}, out.Result["new_skills"])

	applied := out.Result["skill_applied"].(map[string]any)
	assert.Equal(t, "reach", applied["skill"])
}

func TestAdaptive_ConsolidatesAtThreshold(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{ConsolidationThreshold: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Process(ctx, experienceInput("walk", 0.9, false))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, a.Pending())

	_, err := a.Process(ctx, experienceInput("walk", 0.9, false))
	require.NoError(t, err)
	assert.Zero(t, a.Pending())
	assert.Equal(t, 4, a.Buffered())
	_, ok := a.Skill("walk")
	assert.True(t, ok)
}

func TestAdaptive_SamplesStraddlingConsolidation(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{})
	ctx := context.Background()

	for i := 0; i < 48; i++ {
		_, err := a.Process(ctx, experienceInput(fmt.Sprintf("noise-%d", i), 0.1, false))
		require.NoError(t, err)
	}
	// The 50th experience consolidates between the second and third
	// rewarding sample; the buffer keeps them so the 51st completes the skill.
	for i := 0; i < 2; i++ {
		_, err := a.Process(ctx, experienceInput("grasp", 1.0, false))
		require.NoError(t, err)
	}
	assert.Equal(t, 50, a.Buffered())
	assert.Zero(t, a.Pending())
	_, ok := a.Skill("grasp")
	assert.False(t, ok, "two samples are not enough")

	out, err := a.Process(ctx, experienceInput("grasp", 1.0, false))
	require.NoError(t, err)
	assert.Equal(t, []string{"grasp"}, out.Result["new_skills"])
	assert.Equal(t, 51, a.Buffered())

	s, ok := a.Skill("grasp")
	require.True(t, ok)
	assert.Equal(t, 3, s.Samples)
	assert.Len(t, a.TopSkills(-1), 1)

	// Later consolidations add only new samples and never relearn the skill.
	a.Record(Experience{Action: "grasp", Reward: 1})
	assert.Empty(t, a.Consolidate())
	s, _ = a.Skill("grasp")
	assert.Equal(t, 4, s.Samples)
	assert.Empty(t, a.Consolidate())
	s, _ = a.Skill("grasp")
	assert.Equal(t, 4, s.Samples)
}

func TestAdaptive_RingBufferEvictsOldest(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{BufferSize: 3, ConsolidationThreshold: 100})
	a.Record(Experience{Action: "bad", Reward: 0})
	a.Record(Experience{Action: "good", Reward: 1})
	a.Record(Experience{Action: "good", Reward: 1})
	a.Record(Experience{Action: "good", Reward: 1})
	assert.Equal(t, 3, a.Buffered())

	assert.Equal(t, []string{"good"}, a.Consolidate())
	s, ok := a.Skill("good")
	require.True(t, ok)
	assert.Equal(t, 3, s.Samples)
}

func TestAdaptive_FeedbackMovingAverage(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{LearningRate: 0.5})
	for i := 0; i < 3; i++ {
		a.Record(Experience{Action: "jump", Reward: 0.8})
	}
	a.Consolidate()

	require.NoError(t, a.Feedback("jump", false))
	s, _ := a.Skill("jump")
	assert.InDelta(t, 0.4, s.SuccessRate, 1e-9)
	assert.Equal(t, uint64(1), s.UsageCount)

	require.NoError(t, a.Feedback("jump", true))
	s, _ = a.Skill("jump")
	assert.InDelta(t, 0.7, s.SuccessRate, 1e-9)

	assert.ErrorIs(t, a.Feedback("fly", true), ErrSkillNotFound)
}

func TestAdaptive_TopSkillsOrdering(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{})
	for _, sample := range []struct {
		action string
		reward float64
	}{{"a", 0.6}, {"b", 0.9}, {"c", 0.75}} {
		for i := 0; i < 3; i++ {
			a.Record(Experience{Action: sample.action, Reward: sample.reward})
		}
	}
	a.Consolidate()

	top := a.TopSkills(2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Name)
	assert.Equal(t, "c", top[1].Name)
}

func TestAdaptive_InvalidExperience(t *testing.T) {
	a := NewAdaptive(AdaptiveConfig{})
	in := models.NewCycleInput("")
	in.Data["experience"] = map[string]any{"action": "x", "reward": "lots"}

	_, err := a.Process(context.Background(), in)
	var perr *ProcessorError
	require.ErrorAs(t, err, &perr)

	in.Data["experience"] = map[string]any{"reward": 1.0}
	_, err = a.Process(context.Background(), in)
	assert.Error(t, err)
}

type memKV map[string][]byte

func (m memKV) Put(ctx context.Context, key string, value []byte) error {
	m[key] = value
	return nil
}

func (m memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func TestAdaptive_PersistsAndRestoresSkills(t *testing.T) {
	store := memKV{}
	a := NewAdaptive(AdaptiveConfig{Store: store})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Process(ctx, experienceInput("swim", 0.9, i == 2))
		require.NoError(t, err)
	}
	require.Contains(t, store, skillsKey)

	restored := NewAdaptive(AdaptiveConfig{Store: store})
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s, ok := restored.Skill("swim")
	require.True(t, ok)
	assert.InDelta(t, 0.9, s.SuccessRate, 1e-9)
}
