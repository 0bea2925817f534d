// Package progression содержит доменную модель прогресса пользователя.
//
// Пакет определяет:
//
//   - Сущности: User, DailyActivity, AchievementDefinition, Challenge
//   - Чистые вычисления: ApplyXP (уровни), UpdateStreak (серии), MilestoneBonus
//   - Правила: Evaluator (достижения), RankIndex (места в рейтинге)
//   - Частичные обновления профиля: ProfilePatch, MergeProfile
//   - Интерфейсы хранилищ: Store, Ledger, AchievementCatalog, ChallengeCatalog,
//     NotificationSink, UserLocker
//
// # Производные величины
//
// Уровень, серия, места и достижения выводятся друг из друга в строгом порядке:
//
//	XP -> уровень -> серия -> достижения (награды снова дают XP) -> место
//
// Уровень никогда не увеличивается отдельно от XP:
//
//	res, err := ApplyXP(user.TotalXP, user.Level, 100)
//	// res.NewLevel == floor(res.NewXP/1000)+1
//
// Серия меняется не чаще одного раза в календарный день часов движка:
//
//	streak := UpdateStreak(user.CurrentStreak, user.LongestStreak, user.DailyActivity, clock.Now())
//	user.ApplyStreak(streak)
//
// Достижения проверяются в порядке каталога, награды применяются сразу:
//
//	for unlock := range evaluator.Evaluate(ctx, user, catalog, now) {
//	    // unlock.Definition уже добавлено в user.UnlockedAchievements
//	}
//
// Места допускают устаревание между пересчётами: RankOf дёшев и точен
// относительно индекса, RecomputeAll дорог и запускается редко.
package progression
