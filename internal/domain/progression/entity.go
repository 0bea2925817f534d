package progression

import (
	"sort"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESSION RECORD
// ══════════════════════════════════════════════════════════════════════════════

// maxRecentOperations - сколько ключей идемпотентности хранится на пользователе.
const maxRecentOperations = 64

// User представляет запись прогресса пользователя.
// Владелец записи - ProgressionStore; все компоненты работают с загруженной
// копией и записывают её обратно через хранилище.
type User struct {
	// ID - уникальный идентификатор пользователя.
	ID string

	// Profile - редактируемая пользователем часть профиля.
	Profile Profile

	// TotalXP - суммарный опыт, не убывает (кроме административной коррекции).
	TotalXP shared.XP

	// Level - уровень, всегда floor(TotalXP/1000)+1 в состоянии покоя.
	Level shared.Level

	// CurrentStreak - текущая серия дней активности.
	CurrentStreak int

	// LongestStreak - лучшая серия, LongestStreak >= CurrentStreak.
	LongestStreak int

	// StreakFreezes - количество заморозок серии.
	StreakFreezes int

	// Ranks - последние сохранённые места по каждой метрике.
	Ranks map[shared.Metric]shared.Rank

	// DailyActivity - активность по дням, упорядочена по дате, одна запись на день.
	DailyActivity []DailyActivity

	// UnlockedAchievements - открытые достижения в порядке получения (только добавление).
	UnlockedAchievements []string

	// ChallengesCompleted - денормализованный счётчик выполненных заданий.
	ChallengesCompleted int

	// PerfectScores - денормализованный счётчик заданий на 100%.
	PerfectScores int

	// RecentOperations - последние ключи идемпотентности.
	RecentOperations []string

	// IsActive - участвует ли пользователь в рейтинге.
	IsActive bool

	// Version - версия для оптимистической блокировки.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DailyActivity - агрегат активности за один календарный день.
type DailyActivity struct {
	// Date - ключ дня в формате YYYY-MM-DD в часовом поясе движка.
	Date string

	// XPGained - заработано XP за день.
	XPGained int

	// ActivityCount - количество действий за день.
	ActivityCount int

	// SourceTags - источники активности без повторов.
	SourceTags []string
}

// HasTag сообщает, есть ли источник среди тегов дня.
func (d DailyActivity) HasTag(tag string) bool {
	for _, t := range d.SourceTags {
		if t == tag {
			return true
		}
	}
	return false
}

// FreezeOnly сообщает, что день закрыт только заморозкой серии.
func (d DailyActivity) FreezeOnly() bool {
	if len(d.SourceTags) == 0 {
		return false
	}
	for _, t := range d.SourceTags {
		if t != SourceStreakFreeze {
			return false
		}
	}
	return true
}

// Profile - данные профиля, меняются только через ProfilePatch.
type Profile struct {
	DisplayName string
	Bio         string
	Timezone    string
	Preferences Preferences
}

// Preferences - пользовательские настройки.
type Preferences struct {
	Notifications bool
	PublicProfile bool
	Theme         string
}

// NewUser создаёт пользователя с нулевым прогрессом.
func NewUser(id, displayName string, now time.Time) *User {
	return &User{
		ID:        id,
		Profile:   Profile{DisplayName: displayName, Preferences: Preferences{Notifications: true, PublicProfile: true}},
		Level:     shared.MinLevel,
		Ranks:     make(map[shared.Metric]shared.Rank),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone возвращает глубокую копию для снимков до/после операции.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Ranks = make(map[shared.Metric]shared.Rank, len(u.Ranks))
	for k, v := range u.Ranks {
		c.Ranks[k] = v
	}
	c.DailyActivity = make([]DailyActivity, len(u.DailyActivity))
	for i, d := range u.DailyActivity {
		d.SourceTags = append([]string(nil), d.SourceTags...)
		c.DailyActivity[i] = d
	}
	c.UnlockedAchievements = append([]string(nil), u.UnlockedAchievements...)
	c.RecentOperations = append([]string(nil), u.RecentOperations...)
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// Achievements
// ──────────────────────────────────────────────────────────────────────────────

// HasUnlocked проверяет, открыто ли достижение.
func (u *User) HasUnlocked(achievementID string) bool {
	for _, id := range u.UnlockedAchievements {
		if id == achievementID {
			return true
		}
	}
	return false
}

// unlock добавляет достижение; повторное добавление игнорируется.
func (u *User) unlock(achievementID string) bool {
	if u.HasUnlocked(achievementID) {
		return false
	}
	u.UnlockedAchievements = append(u.UnlockedAchievements, achievementID)
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Daily activity
// ──────────────────────────────────────────────────────────────────────────────

// ActivityOn возвращает запись активности за день.
func (u *User) ActivityOn(date string) (DailyActivity, bool) {
	i := sort.Search(len(u.DailyActivity), func(i int) bool {
		return u.DailyActivity[i].Date >= date
	})
	if i < len(u.DailyActivity) && u.DailyActivity[i].Date == date {
		return u.DailyActivity[i], true
	}
	return DailyActivity{}, false
}

// UpsertActivity добавляет XP и действие в запись дня, создавая её при необходимости.
// Записи за один день никогда не дублируются.
func (u *User) UpsertActivity(date string, xp int, tag string) {
	i := sort.Search(len(u.DailyActivity), func(i int) bool {
		return u.DailyActivity[i].Date >= date
	})
	if i < len(u.DailyActivity) && u.DailyActivity[i].Date == date {
		entry := &u.DailyActivity[i]
		entry.XPGained += xp
		entry.ActivityCount++
		entry.SourceTags = appendTag(entry.SourceTags, tag)
		return
	}

	entry := DailyActivity{Date: date, XPGained: xp, ActivityCount: 1, SourceTags: appendTag(nil, tag)}
	u.DailyActivity = append(u.DailyActivity, DailyActivity{})
	copy(u.DailyActivity[i+1:], u.DailyActivity[i:])
	u.DailyActivity[i] = entry
}

// CreditActivity добавляет XP к записи дня, не считая это отдельным действием.
// Используется для бонусов, начисленных вместе с основным действием.
func (u *User) CreditActivity(date string, xp int, tag string) {
	for i := range u.DailyActivity {
		if u.DailyActivity[i].Date == date {
			u.DailyActivity[i].XPGained += xp
			u.DailyActivity[i].SourceTags = appendTag(u.DailyActivity[i].SourceTags, tag)
			return
		}
	}
	u.UpsertActivity(date, xp, tag)
}

func appendTag(tags []string, tag string) []string {
	if tag == "" {
		return tags
	}
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// ──────────────────────────────────────────────────────────────────────────────
// Ranks & metrics
// ──────────────────────────────────────────────────────────────────────────────

// RankFor возвращает сохранённое место по метрике (Unranked, если не считалось).
func (u *User) RankFor(metric shared.Metric) shared.Rank {
	if u.Ranks == nil {
		return shared.Unranked
	}
	return u.Ranks[metric]
}

// SetRank сохраняет место по метрике.
func (u *User) SetRank(metric shared.Metric, rank shared.Rank) {
	if u.Ranks == nil {
		u.Ranks = make(map[shared.Metric]shared.Rank)
	}
	u.Ranks[metric] = rank
}

// MetricValue возвращает значение метрики рейтинга.
func (u *User) MetricValue(metric shared.Metric) int64 {
	switch metric {
	case shared.MetricLevel:
		return int64(u.Level)
	case shared.MetricStreak:
		return int64(u.CurrentStreak)
	default:
		return int64(u.TotalXP)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotency
// ──────────────────────────────────────────────────────────────────────────────

// HasApplied проверяет, была ли операция с таким ключом уже применена.
func (u *User) HasApplied(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range u.RecentOperations {
		if k == key {
			return true
		}
	}
	return false
}

// MarkApplied запоминает ключ операции, вытесняя самые старые.
func (u *User) MarkApplied(key string) {
	if key == "" || u.HasApplied(key) {
		return
	}
	u.RecentOperations = append(u.RecentOperations, key)
	if n := len(u.RecentOperations); n > maxRecentOperations {
		u.RecentOperations = append([]string(nil), u.RecentOperations[n-maxRecentOperations:]...)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Invariants
// ──────────────────────────────────────────────────────────────────────────────

// LevelDrifted сообщает, отстаёт ли уровень от суммарного XP.
func (u *User) LevelDrifted() bool {
	return u.Level != u.TotalXP.Level()
}

// Validate проверяет инварианты записи в состоянии покоя.
func (u *User) Validate() error {
	if !u.TotalXP.IsValid() {
		return shared.NewDomainError("progression", "Validate", shared.ErrNegativeValue, "total xp is negative")
	}
	if u.LevelDrifted() {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "level does not match total xp")
	}
	if u.CurrentStreak < 0 || u.LongestStreak < u.CurrentStreak {
		return shared.NewDomainError("progression", "Validate", shared.ErrValueOutOfRange, "streak invariant violated")
	}
	if u.StreakFreezes < 0 {
		return shared.NewDomainError("progression", "Validate", shared.ErrNegativeValue, "streak freezes are negative")
	}
	return nil
}
