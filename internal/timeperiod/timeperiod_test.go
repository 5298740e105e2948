package timeperiod

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-checker/pkg/config"
)

func TestActive(t *testing.T) {
	p, err := New(map[string][]config.TimeRangeConfig{
		"workhours": {
			{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Start: "08:00", End: "17:30"},
		},
		"nights": {
			{Start: "00:00", End: "06:00"},
			{Start: "22:00", End: "24:00"},
		},
	})
	require.NoError(t, err)

	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	tests := []struct {
		period string
		at     time.Time
		want   bool
	}{
		{"workhours", monday.Add(8 * time.Hour), true},
		{"workhours", monday.Add(17*time.Hour + 30*time.Minute), false},
		{"workhours", monday.Add(7*time.Hour + 59*time.Minute), false},
		{"workhours", monday.AddDate(0, 0, 5).Add(10 * time.Hour), false},
		{"nights", monday.Add(23*time.Hour + 59*time.Minute), true},
		{"nights", monday.Add(12 * time.Hour), false},
		{"24X7", monday, true},
		{"", monday, true},
	}
	for _, tt := range tests {
		got, err := p.Active(tt.period, tt.at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s at %s", tt.period, tt.at)
	}

	_, err = p.Active("unknown", monday)
	assert.Error(t, err)
}

func TestNewRejectsInvalidRanges(t *testing.T) {
	_, err := New(map[string][]config.TimeRangeConfig{"x": {{Start: "10:00", End: "09:00"}}})
	assert.Error(t, err)
	_, err = New(map[string][]config.TimeRangeConfig{"x": {{Start: "10:00", End: "24:30"}}})
	assert.Error(t, err)
	_, err = New(map[string][]config.TimeRangeConfig{"x": {{Days: []string{"someday"}, Start: "10:00", End: "11:00"}}})
	assert.Error(t, err)
}
