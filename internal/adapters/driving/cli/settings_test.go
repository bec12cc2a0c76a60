package cli

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carchive/internal/core/services"
)

// Test helper functions in settings.go

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short key",
			input:    "abc123",
			expected: "****",
		},
		{
			name:     "Exactly 8 chars",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "Long key",
			input:    "sk-1234567890abcdef",
			expected: "sk-1...cdef",
		},
		{
			name:     "Very long key",
			input:    "sk-proj-1234567890abcdefghijklmnop",
			expected: "sk-p...mnop",
		},
		{
			name:     "Empty key",
			input:    "",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskAPIKey(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		maxVal     int
		defaultVal int
		expected   int
	}{
		{
			name:       "Empty input returns default",
			input:      "",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Valid choice within range",
			input:      "3",
			maxVal:     5,
			defaultVal: 1,
			expected:   3,
		},
		{
			name:       "Choice below minimum returns default",
			input:      "0",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Choice above maximum returns default",
			input:      "6",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Invalid input returns default",
			input:      "abc",
			maxVal:     5,
			defaultVal: 2,
			expected:   2,
		},
		{
			name:       "Negative number returns default",
			input:      "-1",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Whitespace returns default",
			input:      "   ",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Maximum value is valid",
			input:      "5",
			maxVal:     5,
			defaultVal: 1,
			expected:   5,
		},
		{
			name:       "Minimum value is valid",
			input:      "1",
			maxVal:     5,
			defaultVal: 3,
			expected:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChoice(tt.input, tt.maxVal, tt.defaultVal)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "URL with password",
			input:    "postgres://carchive:s3cret@db:5432/archive",
			expected: "postgres://carchive:****@db:5432/archive",
		},
		{
			name:     "URL without password",
			input:    "postgres://carchive@db/archive",
			expected: "postgres://carchive@db/archive",
		},
		{
			name:     "key value DSN",
			input:    "host=db user=carchive password=s3cret dbname=archive",
			expected: "host=db user=carchive password=**** dbname=archive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskDSN(tt.input))
		})
	}
}

func TestReadPassword_FallsBackToLine(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("sk-test\n"))
	assert.Equal(t, "sk-test", readPassword(reader))
}

func TestSettingsShow(t *testing.T) {
	setupTestServices(t)

	out, err := runCommand(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "[Storage]")
	assert.Contains(t, out, "Driver: sqlite")
	assert.Contains(t, out, "[Buffers]")
	assert.Contains(t, out, "[Search]")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestSettingsSet(t *testing.T) {
	setupTestServices(t)

	out, err := runCommand(t, "settings", "set", "buffer.default_ttl", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "Set buffer.default_ttl")

	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, "2h0m0s", settings.Buffer.DefaultTTL.String())

	_, err = runCommand(t, "settings", "set", "search.default_limit", "lots")
	assert.Error(t, err)
}

func TestSettingsKeys(t *testing.T) {
	out, err := runCommand(t, "settings", "keys")

	require.NoError(t, err)
	for _, k := range services.SettingKeys() {
		assert.Contains(t, out, k)
	}
}
