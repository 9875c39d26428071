package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionPrefersLdflags(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3", GetVersion())
	assert.True(t, strings.HasPrefix(UserAgent(), "zat/v1.2.3 "))
}

func TestParseBuildTime(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"", time.Time{}},
		{"unknown", time.Time{}},
		{"garbage", time.Time{}},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01 10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(parseBuildTime(tt.input)))
		})
	}
}

func TestGetDetailedVersion(t *testing.T) {
	old := BuildTime
	t.Cleanup(func() { BuildTime = old })
	BuildTime = "2024-03-01T10:00:00Z"

	detailed := GetDetailedVersion()
	assert.Contains(t, detailed, "Version: ")
	assert.Contains(t, detailed, "Built: 2024-03-01T10:00:00Z")
	assert.Contains(t, detailed, "Go: go")
}
