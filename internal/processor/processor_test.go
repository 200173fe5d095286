package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/models"
)

func TestNew_EveryLoopType(t *testing.T) {
	for _, lt := range models.AllLoopTypes() {
		t.Run(lt.String(), func(t *testing.T) {
			p, err := New(lt, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, lt, p.LoopType())

			out, err := p.Process(context.Background(), models.NewCycleInput("routine check", "stay healthy"))
			require.NoError(t, err)
			assert.True(t, out.Success)
			assert.Equal(t, lt, out.LoopType)
			assert.NoError(t, out.Validate())
			assert.GreaterOrEqual(t, out.Metrics.Latency, time.Duration(0))
		})
	}
}

func TestNew_InvalidLoopType(t *testing.T) {
	_, err := New(models.LoopType(99), DefaultOptions())
	assert.ErrorIs(t, err, models.ErrInvalidLoopType)
}

func TestProcessors_NilInput(t *testing.T) {
	for _, lt := range models.AllLoopTypes() {
		p, err := New(lt, DefaultOptions())
		require.NoError(t, err)
		_, err = p.Process(context.Background(), nil)
		assert.NoError(t, err, lt.String())
	}
}

func TestProcessors_ConcurrentCycles(t *testing.T) {
	factory := Factory(DefaultOptions())
	for _, lt := range models.AllLoopTypes() {
		p, err := factory(lt)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				in := models.NewCycleInput("danger hello")
				in.Data["experience"] = map[string]any{"action": "dodge", "reward": 0.9}
				_, err := p.Process(context.Background(), in)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}
}

func TestInputText_Deterministic(t *testing.T) {
	in := models.NewCycleInput("ctx")
	in.Data["b"] = 2
	in.Data["a"] = "one"
	assert.Equal(t, "ctx a one b 2", inputText(in))
	assert.Empty(t, inputText(nil))
}
