package store

import "math"

// SuccessRate 计算整体达成率（四舍五入的百分比）。
// 每个习惯最多贡献 goal 次：超额完成不会抬高达成率。
// 没有任何目标时定义为 0。
func SuccessRate(habits []Habit) int {
	totalGoals := TotalGoals(habits)
	if totalGoals == 0 {
		return 0
	}

	capped := 0
	for _, h := range habits {
		capped += min(len(h.CompletedDays), h.Goal)
	}
	return int(math.Round(float64(capped) / float64(totalGoals) * 100))
}

// TotalCompleted 统计所有习惯的打卡总数，不按目标封顶，
// 因此可能超过 TotalGoals。
func TotalCompleted(habits []Habit) int {
	total := 0
	for _, h := range habits {
		total += len(h.CompletedDays)
	}
	return total
}

// TotalGoals 统计所有习惯的月目标之和。
func TotalGoals(habits []Habit) int {
	total := 0
	for _, h := range habits {
		total += h.Goal
	}
	return total
}
