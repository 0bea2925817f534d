package progression

import "math"

const (
	// PerfectScore - результат, засчитываемый как идеальный.
	PerfectScore = 100

	// PerformanceFloor - минимальная доля награды, даже при нулевом результате.
	PerformanceFloor = 0.1
)

// ChallengeXP вычисляет награду за задание: round(base * max(floor, score/100)).
func ChallengeXP(baseReward, score int, floor float64) int {
	ratio := math.Max(floor, float64(score)/100)
	return int(math.Round(float64(baseReward) * ratio))
}

// IsPerfect сообщает, засчитывается ли результат как идеальный.
func IsPerfect(score int) bool {
	return score >= PerfectScore
}
