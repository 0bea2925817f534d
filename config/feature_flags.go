package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with per-user gradual rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// === Background processing ===
	FeatureReconciliation = "background.reconciliation" // drain the reconciliation queue
	FeatureRankTimer      = "background.rank_timer"     // periodic full rank recompute

	// === Notification Features ===
	FeatureNotifyXPGranted   = "notify.xp_granted"
	FeatureNotifyLevelUp     = "notify.level_up"
	FeatureNotifyAchievement = "notify.achievement"
	FeatureNotifyStreak      = "notify.streak"
	FeatureNotifyRankChanged = "notify.rank_changed"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureReconciliation] = &Feature{
		Name:           FeatureReconciliation,
		Description:    "Repair users flagged as possibly stale",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRankTimer] = &Feature{
		Name:           FeatureRankTimer,
		Description:    "Recompute all ranks on a timer",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyXPGranted] = &Feature{
		Name:           FeatureNotifyXPGranted,
		Description:    "Notify on every XP grant",
		Enabled:        false, // noisy
		RolloutPercent: 0,
	}

	ff.features[FeatureNotifyLevelUp] = &Feature{
		Name:           FeatureNotifyLevelUp,
		Description:    "Notify on level up",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyAchievement] = &Feature{
		Name:           FeatureNotifyAchievement,
		Description:    "Notify on achievement unlock",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyStreak] = &Feature{
		Name:           FeatureNotifyStreak,
		Description:    "Notify on streak changes",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyRankChanged] = &Feature{
		Name:           FeatureNotifyRankChanged,
		Description:    "Notify when rank changes",
		Enabled:        true,
		RolloutPercent: 50,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_BACKGROUND_RANK_TIMER=false
// Example: FEATURE_NOTIFY_RANK_CHANGED=20 (20% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// "notify.level_up" -> "FEATURE_NOTIFY_LEVEL_UP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for userID. An empty userID
// asks about the feature globally.
func (ff *FeatureFlags) IsEnabled(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return isInRollout(userID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout uses a stable hash so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// --- Convenience methods for common checks ---

// ReconciliationEnabled reports whether the reconciliation loop should run.
func (ff *FeatureFlags) ReconciliationEnabled() bool {
	return ff.IsEnabled(FeatureReconciliation, "")
}

// RankTimerEnabled reports whether the periodic rank recompute should run.
func (ff *FeatureFlags) RankTimerEnabled() bool {
	return ff.IsEnabled(FeatureRankTimer, "")
}

// NotificationsEnabled reports whether an event of the given type should be
// delivered to userID.
func (ff *FeatureFlags) NotificationsEnabled(eventType, userID string) bool {
	name, ok := notificationFeatures[eventType]
	if !ok {
		return false
	}
	return ff.IsEnabled(name, userID)
}

var notificationFeatures = map[string]string{
	"xp_granted":           FeatureNotifyXPGranted,
	"level_up":             FeatureNotifyLevelUp,
	"achievement_unlocked": FeatureNotifyAchievement,
	"streak_changed":       FeatureNotifyStreak,
	"rank_changed":         FeatureNotifyRankChanged,
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
