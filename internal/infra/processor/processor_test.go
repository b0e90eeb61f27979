package processor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		name string
		rate string
		want float64
	}{
		{name: "ntsc fraction", rate: "30000/1001", want: 29.97002997002997},
		{name: "whole fraction", rate: "25/1", want: 25},
		{name: "plain number", rate: "24", want: 24},
		{name: "zero denominator", rate: "30/0", want: 0},
		{name: "garbage", rate: "n/a", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, parseFrameRate(tt.rate), 1e-9)
		})
	}
}

func TestParseProgressLine(t *testing.T) {
	duration := 10.0

	pct, ok := parseProgressLine("out_time_ms=5000000", duration)
	require.True(t, ok)
	require.Equal(t, 50, pct)

	// Past-the-end timestamps stay below 100; only a clean exit completes.
	pct, ok = parseProgressLine("out_time_ms=20000000", duration)
	require.True(t, ok)
	require.Equal(t, 99, pct)

	_, ok = parseProgressLine("frame=42", duration)
	require.False(t, ok)

	_, ok = parseProgressLine("out_time_ms=5000000", 0)
	require.False(t, ok)
}
