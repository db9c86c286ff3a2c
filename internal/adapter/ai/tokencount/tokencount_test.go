package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	tests := []struct {
		name     string
		text     string
		model    string
		minCount int
		maxCount int
	}{
		{
			name:     "simple text with gpt-4",
			text:     "Hello, world!",
			model:    "gpt-4",
			minCount: 3,
			maxCount: 5,
		},
		{
			name:     "longer text",
			text:     "The quick brown fox jumps over the lazy dog.",
			model:    "gpt-3.5-turbo",
			minCount: 8,
			maxCount: 12,
		},
		{
			name:     "ollama model id",
			text:     "Hello, world!",
			model:    "llama3",
			minCount: 3,
			maxCount: 5,
		},
		{
			name:     "openrouter model id",
			text:     "Testing token counting",
			model:    "meta-llama/llama-3.1-8b-instruct:free",
			minCount: 3,
			maxCount: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.CountTokens(tt.text, tt.model)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestCountChatTokens(t *testing.T) {
	t.Parallel()

	count, err := NewCounter().CountChatTokens("You are a strict interviewer.", "Ask one question.", "llama3")
	require.NoError(t, err)
	assert.Greater(t, count, 10, "chat tokens should include message overhead")
	assert.Less(t, count, 30)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	c := NewCounter()
	long := strings.Repeat("distributed systems engineer ", 200)

	out, cut, err := c.Truncate(long, "llama3", 50)
	require.NoError(t, err)
	assert.True(t, cut)
	n, err := c.CountTokens(out, "llama3")
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 50)
	assert.True(t, strings.HasPrefix(long, out))

	out, cut, err = c.Truncate("short text", "llama3", 50)
	require.NoError(t, err)
	assert.False(t, cut)
	assert.Equal(t, "short text", out)

	out, cut, err = c.Truncate(long, "llama3", 0)
	require.NoError(t, err)
	assert.False(t, cut)
	assert.Equal(t, long, out)
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gpt-4", normalizeModelName("meta-llama/llama-3.1-8b-instruct:free"))
	assert.Equal(t, "gpt-4", normalizeModelName("llama3"))
	assert.Equal(t, "gpt-3.5-turbo", normalizeModelName("openai/gpt-3.5-turbo"))
}

func TestEncodingCache(t *testing.T) {
	t.Parallel()

	c := NewCounter()
	_, err := c.CountTokens("a", "llama3")
	require.NoError(t, err)
	_, err = c.CountTokens("b", "mistral")
	require.NoError(t, err)
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.encodingCache, 1)
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
