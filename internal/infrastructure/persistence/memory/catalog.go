package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Catalog implements progression.AchievementCatalog and
// progression.ChallengeCatalog. Definitions keep insertion order.
type Catalog struct {
	mu           sync.RWMutex
	achievements []progression.AchievementDefinition
	challenges   map[string]progression.Challenge
}

// NewCatalog creates a catalog seeded with the given definitions.
func NewCatalog(defs ...progression.AchievementDefinition) *Catalog {
	return &Catalog{
		achievements: append([]progression.AchievementDefinition(nil), defs...),
		challenges:   make(map[string]progression.Challenge),
	}
}

// AddChallenge registers a challenge.
func (c *Catalog) AddChallenge(ch progression.Challenge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challenges[ch.ID] = ch
}

// ListActive implements progression.AchievementCatalog.
func (c *Catalog) ListActive(_ context.Context) ([]progression.AchievementDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]progression.AchievementDefinition, 0, len(c.achievements))
	for _, d := range c.achievements {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

// IncrementUnlocked implements progression.AchievementCatalog.
func (c *Catalog) IncrementUnlocked(_ context.Context, achievementID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.achievements {
		if c.achievements[i].ID == achievementID {
			c.achievements[i].TotalUnlocked++
			return nil
		}
	}
	return shared.ErrAchievementNotFound
}

// TotalUnlocked returns the unlock counter of an achievement.
func (c *Catalog) TotalUnlocked(achievementID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.achievements {
		if d.ID == achievementID {
			return d.TotalUnlocked
		}
	}
	return 0
}

// GetChallenge implements progression.ChallengeCatalog.
func (c *Catalog) GetChallenge(_ context.Context, id string) (*progression.Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.challenges[id]
	if !ok || !ch.IsActive {
		return nil, shared.ErrChallengeNotFound
	}
	return &ch, nil
}
