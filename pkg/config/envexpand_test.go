package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONCLAVE_TEST_KEY", "sk-test-123")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "expands set variable",
			input:    "api_key: {{.CONCLAVE_TEST_KEY}}",
			expected: "api_key: sk-test-123",
		},
		{
			name:     "missing variable expands to empty",
			input:    "api_key: '{{.CONCLAVE_TEST_UNSET}}'",
			expected: "api_key: ''",
		},
		{
			name:     "dollar signs pass through",
			input:    "password: p@ss$word",
			expected: "password: p@ss$word",
		},
		{
			name:     "malformed template returned unchanged",
			input:    "value: {{.BROKEN",
			expected: "value: {{.BROKEN",
		},
		{
			name:     "plain yaml unchanged",
			input:    "addr: :8011",
			expected: "addr: :8011",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
