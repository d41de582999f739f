package store

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrHabitNameRequired 在清洗后的习惯名为空时返回，此时不会发起远端调用。
	ErrHabitNameRequired = errors.New("habit name is required")
	// ErrHabitNotFound 在操作的习惯不在当前集合中时返回。
	ErrHabitNotFound = errors.New("habit not found")
)

const maxHabitNameRunes = 100

// habitColors 是固定的展示用配色标签，创建时随机取一个，之后不再变化。
var habitColors = [...]string{"primary", "success", "accent", "warning"}

var namePolicy = bluemonday.StrictPolicy()

// Habit 是面向展示的习惯快照。CompletedDays 为当前查看月内
// 已完成的日号（1..当月天数），严格升序且无重复。
type Habit struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Goal          int    `json:"goal"`
	Icon          string `json:"icon"`
	Color         string `json:"color"`
	CompletedDays []int  `json:"completed_days"`
}

// HabitRow 是远端存储返回的习惯行。
type HabitRow struct {
	ID    uint
	Name  string
	Goal  int
	Icon  string
	Color string
}

// CompletionRow 是远端存储中的一条打卡记录：某习惯在某天完成过。
type CompletionRow struct {
	HabitID uint
	Date    string // YYYY-MM-DD
}

// Remote 抽象习惯与打卡记录的持久化存储。所有日期均为
// 零填充的 YYYY-MM-DD 字符串，所有查询按用户隔离。
type Remote interface {
	ListHabits(ctx context.Context, userID uint) ([]HabitRow, error)
	InsertHabit(ctx context.Context, userID uint, name string, goal int, icon, color string) (HabitRow, error)
	UpdateHabit(ctx context.Context, habitID, userID uint, name string, goal int, icon string) error
	DeleteHabit(ctx context.Context, habitID, userID uint) error
	ListCompletions(ctx context.Context, userID uint, dateFrom, dateTo string) ([]CompletionRow, error)
	InsertCompletion(ctx context.Context, habitID, userID uint, date string) error
	DeleteCompletion(ctx context.Context, habitID uint, date string) error
}

// HabitStore 维护单个用户的月视图状态：习惯集合（按创建顺序）、
// 当前查看的月份与加载标记。打卡/编辑/删除走乐观更新，远端失败时
// 整体重新加载以回到权威状态；新建习惯则先确认后落地，避免展示
// 一条从未持久化成功的习惯。
type HabitStore struct {
	remote Remote

	mu      sync.Mutex
	habits  []Habit
	month   Month
	loading bool
}

// NewHabitStore 构造绑定远端存储的 HabitStore，初始月份为本地当前月。
func NewHabitStore(remote Remote) *HabitStore {
	return &HabitStore{
		remote: remote,
		habits: []Habit{},
		month:  MonthOf(time.Now()),
	}
}

// Month 返回当前查看的月份。
func (s *HabitStore) Month() Month {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.month
}

// Loading 返回是否有一次加载尚未结束。
func (s *HabitStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot 返回习惯集合的深拷贝，供渲染与统计使用。
func (s *HabitStore) Snapshot() []Habit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHabits(s.habits)
}

// Load 从远端整体重建本月的投影。无登录身份时集合为空；
// 读取失败时清空本地状态并上报错误。无论成败加载标记都会被清除。
func (s *HabitStore) Load(ctx context.Context, userID uint) error {
	s.mu.Lock()
	s.loading = true
	month := s.month
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	if userID == 0 {
		s.replaceAll([]Habit{})
		return nil
	}

	rows, err := s.remote.ListHabits(ctx, userID)
	if err != nil {
		s.replaceAll([]Habit{})
		return fmt.Errorf("list habits: %w", err)
	}

	from, to := month.Bounds()
	completions, err := s.remote.ListCompletions(ctx, userID, from, to)
	if err != nil {
		s.replaceAll([]Habit{})
		return fmt.Errorf("list completions: %w", err)
	}

	s.replaceAll(project(rows, completions, month))
	return nil
}

// SetMonth 切换查看月份并触发一次全量加载（换月会使打卡窗口失效）。
func (s *HabitStore) SetMonth(ctx context.Context, userID uint, month Month) error {
	s.mu.Lock()
	s.month = month
	s.mu.Unlock()
	return s.Load(ctx, userID)
}

// PrevMonth 切到上一个月并重新加载。
func (s *HabitStore) PrevMonth(ctx context.Context, userID uint) error {
	return s.SetMonth(ctx, userID, s.Month().Prev())
}

// NextMonth 切到下一个月并重新加载。
func (s *HabitStore) NextMonth(ctx context.Context, userID uint) error {
	return s.SetMonth(ctx, userID, s.Month().Next())
}

// ToggleDay 翻转某习惯在某天的完成状态。本地先行翻转（乐观更新），
// 再向远端发起对应的插入/删除；远端失败时不做局部回滚，而是整体
// 重新加载，保证与权威状态精确一致。
func (s *HabitStore) ToggleDay(ctx context.Context, userID, habitID uint, day int) error {
	s.mu.Lock()
	idx := s.indexOf(habitID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrHabitNotFound
	}

	habit := &s.habits[idx]
	wasDone := slices.Contains(habit.CompletedDays, day)
	if wasDone {
		habit.CompletedDays = slices.DeleteFunc(habit.CompletedDays, func(d int) bool { return d == day })
	} else {
		at, _ := slices.BinarySearch(habit.CompletedDays, day)
		habit.CompletedDays = slices.Insert(habit.CompletedDays, at, day)
	}
	month := s.month
	s.mu.Unlock()

	date := month.DateString(day)
	var err error
	if wasDone {
		err = s.remote.DeleteCompletion(ctx, habitID, date)
	} else {
		err = s.remote.InsertCompletion(ctx, habitID, userID, date)
	}
	if err != nil {
		s.reconcile(ctx, userID)
		return fmt.Errorf("toggle day: %w", err)
	}
	return nil
}

// AddHabit 清洗输入后新建习惯。与打卡不同，这里不做乐观更新：
// 只有远端插入成功才把新习惯追加到本地集合。
func (s *HabitStore) AddHabit(ctx context.Context, userID uint, name string, goal int, icon string) (*Habit, error) {
	name = sanitizeName(name)
	goal = clampGoal(goal)

	if name == "" {
		log.Printf("[store] rejected habit with empty name")
		return nil, ErrHabitNameRequired
	}

	color := habitColors[rand.IntN(len(habitColors))]
	row, err := s.remote.InsertHabit(ctx, userID, name, goal, icon, color)
	if err != nil {
		return nil, fmt.Errorf("insert habit: %w", err)
	}

	habit := Habit{
		ID:            row.ID,
		Name:          row.Name,
		Goal:          row.Goal,
		Icon:          row.Icon,
		Color:         row.Color,
		CompletedDays: []int{},
	}

	s.mu.Lock()
	s.habits = append(s.habits, habit)
	s.mu.Unlock()

	result := habit
	result.CompletedDays = slices.Clone(habit.CompletedDays)
	return &result, nil
}

// EditHabit 按与新建相同的规则清洗输入，乐观替换本地的
// 名称/目标/图标（配色与打卡记录保持不变），远端失败时整体重载。
func (s *HabitStore) EditHabit(ctx context.Context, userID, habitID uint, name string, goal int, icon string) error {
	name = sanitizeName(name)
	goal = clampGoal(goal)

	if name == "" {
		log.Printf("[store] rejected habit edit with empty name")
		return ErrHabitNameRequired
	}

	s.mu.Lock()
	idx := s.indexOf(habitID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrHabitNotFound
	}
	s.habits[idx].Name = name
	s.habits[idx].Goal = goal
	s.habits[idx].Icon = icon
	s.mu.Unlock()

	if err := s.remote.UpdateHabit(ctx, habitID, userID, name, goal, icon); err != nil {
		s.reconcile(ctx, userID)
		return fmt.Errorf("update habit: %w", err)
	}
	return nil
}

// RemoveHabit 乐观地从本地移除习惯后发起远端删除（打卡记录的
// 级联清理由远端负责），失败时整体重载。返回移除前快照中的习惯名，
// 供调用方做确认提示。
func (s *HabitStore) RemoveHabit(ctx context.Context, userID, habitID uint) (string, error) {
	s.mu.Lock()
	idx := s.indexOf(habitID)
	if idx < 0 {
		s.mu.Unlock()
		return "", ErrHabitNotFound
	}
	removedName := s.habits[idx].Name
	s.habits = slices.Delete(s.habits, idx, idx+1)
	s.mu.Unlock()

	if err := s.remote.DeleteHabit(ctx, habitID, userID); err != nil {
		s.reconcile(ctx, userID)
		return removedName, fmt.Errorf("delete habit: %w", err)
	}
	return removedName, nil
}

// reconcile 在远端写入失败后整体重载。重载本身失败只记录日志，
// 原始的写入错误仍然会返回给调用方。
func (s *HabitStore) reconcile(ctx context.Context, userID uint) {
	if err := s.Load(ctx, userID); err != nil {
		log.Printf("[store] reconcile reload failed: %v", err)
	}
}

func (s *HabitStore) replaceAll(habits []Habit) {
	s.mu.Lock()
	s.habits = habits
	s.mu.Unlock()
}

// indexOf 要求调用方已持有锁。
func (s *HabitStore) indexOf(habitID uint) int {
	return slices.IndexFunc(s.habits, func(h Habit) bool { return h.ID == habitID })
}

// project 把打卡记录按习惯聚合成月内日号投影：提取日期中的日，
// 仅保留落在查看月内的记录，升序去重。
func project(rows []HabitRow, completions []CompletionRow, month Month) []Habit {
	prefix := month.String() + "-"
	daysByHabit := make(map[uint][]int, len(rows))

	for _, c := range completions {
		if len(c.Date) != len(dateFormat) || c.Date[:len(prefix)] != prefix {
			continue
		}
		day, err := strconv.Atoi(c.Date[len(prefix):])
		if err != nil || day < 1 || day > month.Days() {
			continue
		}
		if slices.Contains(daysByHabit[c.HabitID], day) {
			continue
		}
		daysByHabit[c.HabitID] = append(daysByHabit[c.HabitID], day)
	}

	habits := make([]Habit, 0, len(rows))
	for _, row := range rows {
		days := daysByHabit[row.ID]
		if days == nil {
			days = []int{}
		}
		slices.Sort(days)
		habits = append(habits, Habit{
			ID:            row.ID,
			Name:          row.Name,
			Goal:          row.Goal,
			Icon:          row.Icon,
			Color:         row.Color,
			CompletedDays: days,
		})
	}
	return habits
}

// sanitizeName 去除标签与首尾空白，并截断到 100 个字符。
// 无论输入来自表单还是 AI 建议都走同一套清洗。
func sanitizeName(name string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
	runes := []rune(cleaned)
	if len(runes) > maxHabitNameRunes {
		cleaned = string(runes[:maxHabitNameRunes])
	}
	return cleaned
}

// clampGoal 把月目标限制在 [1,31]，缺省或非法时退回 1。
func clampGoal(goal int) int {
	if goal < 1 {
		return 1
	}
	if goal > 31 {
		return 31
	}
	return goal
}

func cloneHabits(habits []Habit) []Habit {
	out := make([]Habit, len(habits))
	for i, h := range habits {
		out[i] = h
		out[i].CompletedDays = slices.Clone(h.CompletedDays)
	}
	return out
}
