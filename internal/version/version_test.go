package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"same version", "9.4.1", "9.4.1", 0},
		{"patch upgrade", "9.4.2", "9.4.1", 1},
		{"patch downgrade", "9.4.0", "9.4.1", -1},
		{"minor upgrade", "9.5.0", "9.4.1", 1},
		{"major downgrade", "8.11.2", "9.0.0", -1},
		{"multi-digit minor", "8.11", "8.9", 1},
		{"different lengths", "9", "9.0.0", 0},
		{"snapshot", "10.0.0-SNAPSHOT", "9.9", 1},
		{"snapshot before release", "10.0.0-SNAPSHOT", "10.0.0", -1},
		{"garbage", "unknown", "1.0", -1},
		{"build suffix", "9.4.1 1234abcd - user - 2024-01-01", "9.4.1", 0},
		{"v prefix", "v1.2.3", "1.2.3", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.a, tt.b))
		})
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("9.4.1", MinimumServer))
	assert.True(t, AtLeast("4.0.0", MinimumServer))
	assert.False(t, AtLeast("3.6.2", MinimumServer))
	assert.False(t, AtLeast("", MinimumServer))
	assert.False(t, AtLeast("unknown", MinimumServer))
}
