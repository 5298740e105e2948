package itemstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounters(t *testing.T) *Counters {
	t.Helper()
	s := New(t.TempDir(), WithPrivilegeCheck(nil))
	s.Load("host1")
	return s.Counters("kernel.util", "")
}

func TestRateFirstSampleWraps(t *testing.T) {
	c := newCounters(t)

	_, err := c.Rate("ctxt", 100, 1000)

	assert.ErrorIs(t, err, ErrCounterWrapped)
	assert.ErrorIs(t, c.Wrapped(), ErrCounterWrapped)
	rec, ok := c.store.Lookup(c.key("ctxt"))
	require.True(t, ok, "state must be stored even when the rate fails")
	assert.Equal(t, Record{Time: 100, Value: 1000}, rec)
}

func TestRateSecondSample(t *testing.T) {
	cases := []struct{ t1, v1, t2, v2 float64 }{
		{0, 0, 10, 100},
		{100, 5, 160, 125},
		{1.5, 10, 2.0, 10},
	}
	for _, cs := range cases {
		c := newCounters(t)
		_, err := c.Rate("k", cs.t1, cs.v1)
		require.Error(t, err)
		rate, err := c.Rate("k", cs.t2, cs.v2)
		require.NoError(t, err)
		assert.InDelta(t, (cs.v2-cs.v1)/(cs.t2-cs.t1), rate, 1e-9)
	}
}

func TestRateNoTimeDifference(t *testing.T) {
	c := newCounters(t)
	_, _ = c.Rate("k", 100, 1)
	_, err := c.Rate("k", 100, 2)

	var wrap *WrapError
	require.True(t, errors.As(err, &wrap))
	assert.Equal(t, "no time difference", wrap.Reason)
}

func TestRateDecrease(t *testing.T) {
	c := newCounters(t)
	_, _ = c.Rate("k", 0, 100)
	_, err := c.Rate("k", 10, 50)
	assert.ErrorIs(t, err, ErrCounterWrapped)

	c = newCounters(t)
	_, _ = c.Rate("k", 0, 100, AllowNegative())
	rate, err := c.Rate("k", 10, 50, AllowNegative())
	require.NoError(t, err)
	assert.InDelta(t, -5.0, rate, 1e-9)
}

func TestRateIsRate(t *testing.T) {
	c := newCounters(t)
	_, _ = c.Rate("k", 0, 7, IsRate())
	rate, err := c.Rate("k", 10, 7, IsRate())
	require.NoError(t, err)
	assert.Equal(t, 7.0, rate)
}

func TestRateWrapPolicies(t *testing.T) {
	c := newCounters(t)
	rate, err := c.Rate("zero", 0, 1, WithOnWrap(OnWrapZero))
	assert.NoError(t, err)
	assert.Equal(t, 0.0, rate)
	assert.NoError(t, c.Wrapped())

	_, err = c.Rate("raise", 0, 1, WithOnWrap(OnWrapRaise))
	assert.ErrorIs(t, err, ErrCounterWrapped)
	assert.NoError(t, c.Wrapped(), "raise policy does not defer the wrap")
}

func TestAverage(t *testing.T) {
	c := newCounters(t)

	assert.Equal(t, 0.0, c.Average("k", 0, 0, 1, true))
	avg := c.Average("k", 60, 100, 1, true)
	assert.InDelta(t, 50.0, avg, 1e-9)
	assert.Greater(t, avg, 0.0)
	assert.Less(t, avg, 100.0)
}

func TestAverageShorterBacklogIsCloserToValue(t *testing.T) {
	long := newCounters(t)
	long.Average("k", 0, 0, 5, true)
	slow := long.Average("k", 60, 100, 5, true)

	short := newCounters(t)
	short.Average("k", 0, 0, 0.5, true)
	fast := short.Average("k", 60, 100, 0.5, true)

	assert.Greater(t, fast, slow)
}

func TestAverageSeedsWithValue(t *testing.T) {
	c := newCounters(t)
	assert.Equal(t, 42.0, c.Average("k", 0, 42, 1, false))
	rec, ok := c.store.Lookup(c.key("k"))
	require.True(t, ok)
	assert.Equal(t, 42.0, rec.Value)
}
