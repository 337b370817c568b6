package execctx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespacesAreDisjoint(t *testing.T) {
	c := New()
	c.SetStepOutput("a", 1)
	c.SetGlobal("a", 2)

	out, ok := c.GetStepOutput("a")
	require.True(t, ok)
	assert.Equal(t, 1, out)

	g, ok := c.GetGlobal("a")
	require.True(t, ok)
	assert.Equal(t, 2, g)
}

func TestSnapshotIsolation(t *testing.T) {
	c := New()
	c.SetStepOutput("a", "out-a")
	c.SetGlobal("k", "v")

	snap := c.Snapshot()
	snap.StepOutputs["a"] = "mutated"
	snap.Globals["k"] = "mutated"
	snap.Globals["new"] = true

	out, _ := c.GetStepOutput("a")
	assert.Equal(t, "out-a", out)
	g, _ := c.GetGlobal("k")
	assert.Equal(t, "v", g)
	assert.False(t, c.HasGlobal("new"))
}

func TestRestoreReplacesWholesale(t *testing.T) {
	c := New()
	c.SetStepOutput("old", 1)
	c.SetGlobal("old", 1)

	c.Restore(&Snapshot{
		StepOutputs: map[string]any{"new": 2},
		Globals:     map[string]any{"g": 3},
	})

	assert.False(t, c.HasStepOutput("old"))
	assert.False(t, c.HasGlobal("old"))
	assert.True(t, c.HasStepOutput("new"))
	g, _ := c.GetGlobal("g")
	assert.Equal(t, 3, g)
}

func TestInstancesShareNothing(t *testing.T) {
	a := New()
	b := New()

	before := b.Snapshot()
	a.SetGlobal("k", "a-value")
	a.SetStepOutput("s", "a-out")
	after := b.Snapshot()

	assert.Equal(t, before, after)
}

func TestClears(t *testing.T) {
	c := New()
	c.SetStepOutput("s", 1)
	c.SetGlobal("g", 1)

	c.ClearStepOutputs()
	assert.False(t, c.HasStepOutput("s"))
	assert.True(t, c.HasGlobal("g"))

	c.SetStepOutput("s", 1)
	c.ClearGlobals()
	assert.True(t, c.HasStepOutput("s"))
	assert.False(t, c.HasGlobal("g"))

	c.SetGlobal("g", 1)
	c.Clear()
	assert.Empty(t, c.StepOutputs())
	assert.Empty(t, c.Globals())
}

func TestConcurrentGlobalWrites(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.SetGlobal("shared", n)
			c.GetGlobal("shared")
		}(i)
	}
	wg.Wait()

	assert.True(t, c.HasGlobal("shared"))
}
