package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inRange(c model.Channel, v float64) bool {
	spec := c.Spec()
	return v >= spec.Min && v <= spec.Max
}

func TestNewDefaults(t *testing.T) {
	sim := New()
	assert.Equal(t, []string{"wt-01", "wt-02", "wt-03"}, sim.TurbineIDs())
	assert.Len(t, sim.Turbines(), 3)

	sim = New(WithTurbineIDs("north", "south", "north"))
	assert.Equal(t, []string{"north", "south"}, sim.TurbineIDs())
}

func TestFaultChangesOnlyTargetChannel(t *testing.T) {
	tr := SyntheticTrace(50, 7)
	sim := New(WithTurbineIDs("wt-01"), WithTrace(tr))
	turbine, err := sim.Turbine("wt-01")
	require.NoError(t, err)

	for _, target := range model.Channels() {
		require.NoError(t, sim.SetFault("wt-01", target, true))

		// Row the cursor will emit next, taken from an identical cursor.
		turbine.mu.Lock()
		expected := tr.At(turbine.cursor.pos)
		turbine.mu.Unlock()

		s := turbine.Tick(time.Now())
		for _, c := range model.Channels() {
			if c == target {
				assert.False(t, inRange(c, s.Values[c]), "faulted %s should be out of range: %f", c, s.Values[c])
				assert.NotEqual(t, expected[c], s.Values[c])
				continue
			}
			assert.Equal(t, expected[c], s.Values[c], "channel %s changed while %s was faulted", c, target)
		}

		require.NoError(t, sim.SetFault("wt-01", target, false))
	}
}

func TestInjectFaultToggles(t *testing.T) {
	sim := New(WithTurbineCount(2))

	on, err := sim.InjectFault("wt-02", model.Temperature)
	require.NoError(t, err)
	assert.True(t, on)

	faults, err := sim.Faults("wt-02")
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{model.Temperature}, faults)

	on, err = sim.InjectFault("wt-02", model.Temperature)
	require.NoError(t, err)
	assert.False(t, on)

	faults, err = sim.Faults("wt-02")
	require.NoError(t, err)
	assert.Empty(t, faults)

	_, err = sim.InjectFault("wt-99", model.Temperature)
	assert.ErrorIs(t, err, ErrUnknownTurbine)

	_, err = sim.InjectFault("wt-01", model.Channel(42))
	assert.ErrorIs(t, err, model.ErrUnknownChannel)
}

func TestTickSequenceAndBuffer(t *testing.T) {
	sim := New(WithTurbineIDs("wt-01"), WithBufferCapacity(4))
	turbine, err := sim.Turbine("wt-01")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		turbine.Tick(time.Now())
	}

	window, full, err := sim.Latest("wt-01", 4)
	require.NoError(t, err)
	assert.True(t, full)
	require.Len(t, window, 4)
	for i, s := range window {
		assert.Equal(t, uint64(7+i), s.Seq)
		assert.Equal(t, "wt-01", s.TurbineID)
	}

	_, full, err = sim.Latest("wt-01", 5)
	require.NoError(t, err)
	assert.False(t, full)

	_, _, err = sim.Latest("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownTurbine)

	st := turbine.Status()
	assert.Equal(t, uint64(10), st.Samples)
	assert.Equal(t, 4, st.Buffered)
	require.NotNil(t, st.Last)
	assert.Equal(t, uint64(10), st.Last.Seq)
}

func TestStartStop(t *testing.T) {
	sim := New(WithTurbineCount(2), WithTickInterval(time.Millisecond), WithBufferCapacity(8))

	require.NoError(t, sim.Start(context.Background()))
	assert.ErrorIs(t, sim.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, sim.Running())

	assert.Eventually(t, func() bool {
		for _, st := range sim.Status() {
			if st.Buffered < 8 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sim.Stop())
	assert.False(t, sim.Running())
	assert.ErrorIs(t, sim.Stop(), ErrNotRunning)

	turbine, err := sim.Turbine("wt-01")
	require.NoError(t, err)
	total := turbine.Buffer().Total()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, total, turbine.Buffer().Total())
}
