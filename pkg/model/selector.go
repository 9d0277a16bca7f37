package model

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Selector picks the model configuration for each prompt. The first choice
// made for a prompt id sticks for every subsequent call in that prompt,
// unless a fallback switch was just applied.
type Selector struct {
	logger      zerolog.Logger
	preferences []Config

	mu       sync.Mutex
	assigned map[string]int // promptID -> index into preferences
}

// NewSelector creates a selector over an ordered preference list.
func NewSelector(preferences []Config, logger zerolog.Logger) (*Selector, error) {
	if len(preferences) == 0 {
		return nil, fmt.Errorf("at least one model preference is required")
	}
	return &Selector{
		logger:      logger.With().Str("component", "model-selector").Logger(),
		preferences: preferences,
		assigned:    make(map[string]int),
	}, nil
}

// Choose returns the sticky model configuration for a prompt id.
func (s *Selector) Choose(promptID string) Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.assigned[promptID]
	if !ok {
		idx = 0
		s.assigned[promptID] = idx
	}
	return s.preferences[idx]
}

// Fallback switches the prompt to the next preferred model. It returns the
// new configuration, or false when no further fallback is available.
func (s *Selector) Fallback(promptID string) (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.assigned[promptID]
	if idx+1 >= len(s.preferences) {
		return Config{}, false
	}

	idx++
	s.assigned[promptID] = idx
	cfg := s.preferences[idx]
	s.logger.Warn().
		Str("prompt_id", promptID).
		Str("model", cfg.Model).
		Msg("Switched to fallback model")
	return cfg, true
}

// Release forgets the sticky assignment for a prompt id.
func (s *Selector) Release(promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, promptID)
}
