package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/habitgrid/internal/db"
	"github.com/habitgrid/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHabitNotFound 在指定习惯不存在或不属于该用户时返回
	ErrHabitNotFound = errors.New("habit not found")
)

// HabitService 是 store.Remote 的数据库实现：习惯与打卡记录的
// 增删改查，所有查询按用户隔离，日期以 YYYY-MM-DD 文本比较。
type HabitService struct {
	db *gorm.DB
}

var _ store.Remote = (*HabitService)(nil)

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB) *HabitService {
	return &HabitService{db: gdb}
}

// ListHabits 返回用户的全部习惯，按创建时间升序。
func (s *HabitService) ListHabits(ctx context.Context, userID uint) ([]store.HabitRow, error) {
	var habits []db.Habit
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	rows := make([]store.HabitRow, 0, len(habits))
	for _, h := range habits {
		rows = append(rows, store.HabitRow{ID: h.ID, Name: h.Name, Goal: h.Goal, Icon: h.Icon, Color: h.Color})
	}
	return rows, nil
}

// InsertHabit 新建习惯，ID 与时间戳由数据库分配。
func (s *HabitService) InsertHabit(ctx context.Context, userID uint, name string, goal int, icon, color string) (store.HabitRow, error) {
	habit := db.Habit{
		UserID: userID,
		Name:   name,
		Goal:   goal,
		Icon:   icon,
		Color:  color,
	}

	if err := s.db.WithContext(ctx).Create(&habit).Error; err != nil {
		return store.HabitRow{}, fmt.Errorf("create habit: %w", err)
	}
	return store.HabitRow{ID: habit.ID, Name: habit.Name, Goal: habit.Goal, Icon: habit.Icon, Color: habit.Color}, nil
}

// UpdateHabit 更新名称/目标/图标，配色保持不变。
func (s *HabitService) UpdateHabit(ctx context.Context, habitID, userID uint, name string, goal int, icon string) error {
	result := s.db.WithContext(ctx).
		Model(&db.Habit{}).
		Where("id = ? AND user_id = ?", habitID, userID).
		Updates(map[string]any{"name": name, "goal": goal, "icon": icon})
	if result.Error != nil {
		return fmt.Errorf("update habit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrHabitNotFound
	}
	return nil
}

// DeleteHabit 删除习惯并级联清理其全部打卡记录，同一事务内完成。
func (s *HabitService) DeleteHabit(ctx context.Context, habitID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", habitID, userID).Delete(&db.Habit{})
		if result.Error != nil {
			return fmt.Errorf("delete habit: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrHabitNotFound
		}

		if err := tx.Unscoped().Where("habit_id = ?", habitID).Delete(&db.Completion{}).Error; err != nil {
			return fmt.Errorf("delete completions: %w", err)
		}
		return nil
	})
}

// ListCompletions 返回用户在日期闭区间内的全部打卡记录。
func (s *HabitService) ListCompletions(ctx context.Context, userID uint, dateFrom, dateTo string) ([]store.CompletionRow, error) {
	var completions []db.Completion
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("date BETWEEN ? AND ?", dateFrom, dateTo).
		Order("date ASC").
		Find(&completions).Error; err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}

	rows := make([]store.CompletionRow, 0, len(completions))
	for _, c := range completions {
		rows = append(rows, store.CompletionRow{HabitID: c.HabitID, Date: c.Date})
	}
	return rows, nil
}

// InsertCompletion 记录打卡。habit_id + date 唯一索引配合
// ON CONFLICT DO NOTHING 保证幂等：记录存在与否是纯粹的布尔事实，从不累加。
func (s *HabitService) InsertCompletion(ctx context.Context, habitID, userID uint, date string) error {
	var habit db.Habit
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", habitID, userID).First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrHabitNotFound
		}
		return fmt.Errorf("find habit: %w", err)
	}

	record := db.Completion{HabitID: habitID, UserID: userID, Date: date}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
		DoNothing: true,
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// DeleteCompletion 删除某习惯某天的打卡记录，不存在时视为已删除。
// 物理删除而非软删除，否则被删行会占住 habit_id + date 唯一索引，
// 导致同一天无法再次打卡。
func (s *HabitService) DeleteCompletion(ctx context.Context, habitID uint, date string) error {
	if err := s.db.WithContext(ctx).Unscoped().
		Where("habit_id = ? AND date = ?", habitID, date).
		Delete(&db.Completion{}).Error; err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}
