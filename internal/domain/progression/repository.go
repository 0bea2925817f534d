package progression

import (
	"context"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракты внешних хранилищ. Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store - долговременное хранилище записей прогресса.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Users
	// ─────────────────────────────────────────────────────────────────────────

	// GetUser возвращает пользователя по ID.
	// Возвращает ошибку с видом ErrNotFound, если пользователь не найден.
	GetUser(ctx context.Context, id string) (*User, error)

	// CreateUser сохраняет нового пользователя.
	// Возвращает ошибку с видом ErrAlreadyExists, если ID уже занят.
	CreateUser(ctx context.Context, user *User) error

	// SaveUser сохраняет пользователя вместе с новыми записями журнала атомарно.
	// Возвращает ошибку с видом ErrConflict, если версия записи изменилась.
	// При успехе увеличивает user.Version.
	SaveUser(ctx context.Context, user *User, entries ...LedgerRecord) error

	// UpdateRank записывает место пользователя по метрике, не трогая версию.
	UpdateRank(ctx context.Context, userID string, metric shared.Metric, rank shared.Rank) error

	// ─────────────────────────────────────────────────────────────────────────
	// Range queries
	// ─────────────────────────────────────────────────────────────────────────

	// CountUsersWhere возвращает количество пользователей, подходящих под предикат.
	CountUsersWhere(ctx context.Context, predicate UserPredicate) (int64, error)

	// FindAllActiveUsersSortedBy возвращает активных пользователей, отсортированных
	// по метрике по убыванию; при равенстве - по дате создания, затем по ID.
	FindAllActiveUsersSortedBy(ctx context.Context, metric shared.Metric) ([]RankEntry, error)

	// ListUserIDs возвращает ID пользователей постранично.
	ListUserIDs(ctx context.Context, offset, limit int) ([]string, error)
}

// Ledger - журнал завершённых действий пользователя.
type Ledger interface {
	// QueryLedger возвращает записи пользователя по фильтру.
	QueryLedger(ctx context.Context, userID string, filter LedgerFilter) ([]LedgerRecord, error)
}

// AchievementCatalog - каталог достижений (только чтение + счётчик открытий).
type AchievementCatalog interface {
	// ListActive возвращает активные достижения в порядке каталога.
	ListActive(ctx context.Context) ([]AchievementDefinition, error)

	// IncrementUnlocked увеличивает счётчик открытий достижения.
	IncrementUnlocked(ctx context.Context, achievementID string) error
}

// ChallengeCatalog - каталог заданий (контент управляется извне).
type ChallengeCatalog interface {
	// GetChallenge возвращает задание по ID или ошибку с видом ErrNotFound.
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
}

// NotificationSink - доставка событий подключённым клиентам.
// Publish не должен блокировать вызывающего.
type NotificationSink interface {
	Publish(ctx context.Context, userID string, eventType shared.EventType, payload map[string]interface{}) error
}

// UserLocker - эксклюзивный доступ к записи одного пользователя.
type UserLocker interface {
	// Lock блокирует пользователя и возвращает функцию разблокировки.
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY TYPES
// ══════════════════════════════════════════════════════════════════════════════

// UserPredicate - условие для CountUsersWhere.
type UserPredicate struct {
	// Metric - метрика для сравнения.
	Metric shared.Metric

	// GreaterThan - учитываются пользователи со значением строго больше.
	GreaterThan int64

	// ActiveOnly - учитывать только активных пользователей.
	ActiveOnly bool
}

// Matches проверяет пользователя на соответствие предикату.
func (p UserPredicate) Matches(u *User) bool {
	if p.ActiveOnly && !u.IsActive {
		return false
	}
	return u.MetricValue(p.Metric) > p.GreaterThan
}

// RankEntry - строка снимка для пересчёта рейтинга.
type RankEntry struct {
	UserID    string
	Value     int64
	CreatedAt time.Time
}

// LedgerKind - тип записи журнала.
type LedgerKind string

const (
	LedgerChallengeCompleted LedgerKind = "challenge_completed"
	LedgerLogin              LedgerKind = "login"
)

// LedgerRecord - запись журнала активности.
type LedgerRecord struct {
	ID          string
	UserID      string
	Kind        LedgerKind
	ReferenceID string
	Score       int
	XP          int
	TimeSpent   time.Duration
	OccurredAt  time.Time
}

// LedgerFilter - фильтр запроса к журналу.
type LedgerFilter struct {
	Kind     LedgerKind
	Range    shared.TimeRange
	MinScore int
}

// Matches проверяет запись на соответствие фильтру.
func (f LedgerFilter) Matches(r LedgerRecord) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if r.Score < f.MinScore {
		return false
	}
	return f.Range.Contains(r.OccurredAt)
}

// Challenge - задание с базовой наградой.
type Challenge struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	BaseReward int    `yaml:"base_reward"`
	IsActive   bool   `yaml:"is_active"`
}
