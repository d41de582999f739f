package db

import (
	"gorm.io/gorm"
)

// Habit 定义了用户的习惯模型
// Goal 为当月目标完成次数（1~31）
// Color 是固定标签集中的展示配色，创建时随机指定，之后不再变化
// Icon 存放单个符号字形，内容不做约束
type Habit struct {
	gorm.Model
	UserID uint   `gorm:"index;not null"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`
	Name   string `gorm:"size:100;not null"`
	Goal   int    `gorm:"not null"`
	Icon   string
	Color  string
}

// Completion 记录某习惯在某个自然日完成过
// Habit + Date 采用唯一索引，保证同一天的记录要么存在要么不存在，从不累加
// Date 以零填充的 YYYY-MM-DD 文本存储（按本地日历构造），窗口查询可直接比较
type Completion struct {
	gorm.Model
	HabitID uint   `gorm:"index;index:idx_completion_unique,unique"`
	Habit   Habit  `gorm:"constraint:OnDelete:CASCADE"`
	UserID  uint   `gorm:"index"`
	Date    string `gorm:"size:10;index:idx_completion_unique,unique"`
}

// TableName 重写确保唯一索引作用到 habit_id + date
func (Completion) TableName() string {
	return "completions"
}
