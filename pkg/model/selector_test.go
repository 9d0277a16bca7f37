package model

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPreferences() []Config {
	return []Config{
		{Provider: "anthropic", Model: "primary"},
		{Provider: "anthropic", Model: "secondary"},
		{Provider: "openai", Model: "tertiary"},
	}
}

func TestNewSelectorRequiresPreferences(t *testing.T) {
	_, err := NewSelector(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestChooseIsStickyPerPrompt(t *testing.T) {
	s, err := NewSelector(testPreferences(), zerolog.Nop())
	require.NoError(t, err)

	first := s.Choose("p1")
	assert.Equal(t, "primary", first.Model)
	assert.Equal(t, "primary", s.Choose("p1").Model)
	assert.Equal(t, "primary", s.Choose("p2").Model)
}

func TestFallbackWalksPreferenceOrder(t *testing.T) {
	s, err := NewSelector(testPreferences(), zerolog.Nop())
	require.NoError(t, err)

	s.Choose("p1")

	cfg, ok := s.Fallback("p1")
	require.True(t, ok)
	assert.Equal(t, "secondary", cfg.Model)
	assert.Equal(t, "secondary", s.Choose("p1").Model)

	cfg, ok = s.Fallback("p1")
	require.True(t, ok)
	assert.Equal(t, "tertiary", cfg.Model)

	_, ok = s.Fallback("p1")
	assert.False(t, ok)

	// Other prompts keep the primary.
	assert.Equal(t, "primary", s.Choose("p2").Model)
}

func TestReleaseResetsAssignment(t *testing.T) {
	s, err := NewSelector(testPreferences(), zerolog.Nop())
	require.NoError(t, err)

	s.Choose("p1")
	_, ok := s.Fallback("p1")
	require.True(t, ok)

	s.Release("p1")
	assert.Equal(t, "primary", s.Choose("p1").Model)
}
