package command

import (
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// diffEvents derives domain events from two snapshots of the same user.
// Nothing is emitted for state that did not change, so replaying an
// operation that persists identical state produces no events.
func diffEvents(pre, post *progression.User, grants []xpGrant, unlocks []progression.Unlock, at time.Time) []shared.Event {
	var events []shared.Event

	if post.TotalXP > pre.TotalXP {
		total := int(pre.TotalXP)
		for _, g := range grants {
			total += g.amount
			events = append(events, shared.NewXPGrantedEvent(post.ID, g.amount, total, g.source, at))
		}
	}

	if post.Level > pre.Level {
		events = append(events, shared.NewLevelUpEvent(post.ID, int(pre.Level), int(post.Level), at))
	}

	if post.CurrentStreak != pre.CurrentStreak {
		events = append(events, shared.NewStreakChangedEvent(
			post.ID,
			pre.CurrentStreak,
			post.CurrentStreak,
			post.LongestStreak,
			post.LongestStreak > pre.LongestStreak,
			at,
		))
	}

	if len(post.UnlockedAchievements) > len(pre.UnlockedAchievements) {
		defs := make(map[string]progression.AchievementDefinition, len(unlocks))
		for _, u := range unlocks {
			defs[u.Definition.ID] = u.Definition
		}
		for _, id := range post.UnlockedAchievements {
			if pre.HasUnlocked(id) {
				continue
			}
			def, ok := defs[id]
			if !ok {
				def = progression.AchievementDefinition{ID: id, Name: id}
			}
			events = append(events, shared.NewAchievementUnlockedEvent(
				post.ID, id, def.Name, def.RewardXP, def.RewardStreakFreezes, at,
			))
		}
	}

	for _, metric := range shared.AllMetrics {
		oldRank, newRank := pre.RankFor(metric), post.RankFor(metric)
		if newRank != oldRank && newRank != shared.Unranked {
			events = append(events, shared.NewRankChangedEvent(post.ID, metric, int(oldRank), int(newRank), at))
		}
	}

	return events
}
