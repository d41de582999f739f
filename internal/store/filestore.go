package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// storageKey 是遗留的单文档存储键：整个习惯数组序列化在它下面，
// 不做用户隔离。仅作为联网存储之外的演示/降级形态保留。
const storageKey = "habits"

// FileStore 把习惯与打卡日期持久化到单个 JSON 文件中，
// 实现与数据库后端相同的 Remote 接口，让演示模式走完全一样的
// 状态同步路径。userID 参数被接受但不参与隔离。
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileHabit struct {
	ID             uint     `json:"id"`
	Name           string   `json:"name"`
	Goal           int      `json:"goal"`
	Icon           string   `json:"icon"`
	Color          string   `json:"color"`
	CompletedDates []string `json:"completed_dates"`
}

type fileDocument map[string][]fileHabit

// NewFileStore 构造文件存储。文件不存在时首次读取会写入一批
// 演示习惯，方便未接数据库直接体验。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// ListHabits 返回全部习惯（遗留格式无用户维度）。
func (f *FileStore) ListHabits(ctx context.Context, userID uint) ([]HabitRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}

	rows := make([]HabitRow, 0, len(doc[storageKey]))
	for _, h := range doc[storageKey] {
		rows = append(rows, HabitRow{ID: h.ID, Name: h.Name, Goal: h.Goal, Icon: h.Icon, Color: h.Color})
	}
	return rows, nil
}

// InsertHabit 追加一条习惯并立即落盘。
func (f *FileStore) InsertHabit(ctx context.Context, userID uint, name string, goal int, icon, color string) (HabitRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return HabitRow{}, err
	}

	var maxID uint
	for _, h := range doc[storageKey] {
		if h.ID > maxID {
			maxID = h.ID
		}
	}

	habit := fileHabit{ID: maxID + 1, Name: name, Goal: goal, Icon: icon, Color: color, CompletedDates: []string{}}
	doc[storageKey] = append(doc[storageKey], habit)
	if err := f.write(doc); err != nil {
		return HabitRow{}, err
	}
	return HabitRow{ID: habit.ID, Name: habit.Name, Goal: habit.Goal, Icon: habit.Icon, Color: habit.Color}, nil
}

// UpdateHabit 更新名称/目标/图标，配色与打卡日期不动。
func (f *FileStore) UpdateHabit(ctx context.Context, habitID, userID uint, name string, goal int, icon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(doc[storageKey], func(h fileHabit) bool { return h.ID == habitID })
	if idx < 0 {
		return ErrHabitNotFound
	}

	doc[storageKey][idx].Name = name
	doc[storageKey][idx].Goal = goal
	doc[storageKey][idx].Icon = icon
	return f.write(doc)
}

// DeleteHabit 删除习惯，打卡日期随习惯一起消失（级联语义）。
func (f *FileStore) DeleteHabit(ctx context.Context, habitID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	before := len(doc[storageKey])
	doc[storageKey] = slices.DeleteFunc(doc[storageKey], func(h fileHabit) bool { return h.ID == habitID })
	if len(doc[storageKey]) == before {
		return ErrHabitNotFound
	}
	return f.write(doc)
}

// ListCompletions 返回日期区间内的打卡记录（闭区间，ISO 日期可直接
// 按字典序比较）。
func (f *FileStore) ListCompletions(ctx context.Context, userID uint, dateFrom, dateTo string) ([]CompletionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}

	var rows []CompletionRow
	for _, h := range doc[storageKey] {
		for _, date := range h.CompletedDates {
			if date >= dateFrom && date <= dateTo {
				rows = append(rows, CompletionRow{HabitID: h.ID, Date: date})
			}
		}
	}
	return rows, nil
}

// InsertCompletion 记录打卡，重复日期保持幂等。
func (f *FileStore) InsertCompletion(ctx context.Context, habitID, userID uint, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(doc[storageKey], func(h fileHabit) bool { return h.ID == habitID })
	if idx < 0 {
		return ErrHabitNotFound
	}

	if slices.Contains(doc[storageKey][idx].CompletedDates, date) {
		return nil
	}
	doc[storageKey][idx].CompletedDates = append(doc[storageKey][idx].CompletedDates, date)
	slices.Sort(doc[storageKey][idx].CompletedDates)
	return f.write(doc)
}

// DeleteCompletion 删除某天的打卡记录。
func (f *FileStore) DeleteCompletion(ctx context.Context, habitID uint, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(doc[storageKey], func(h fileHabit) bool { return h.ID == habitID })
	if idx < 0 {
		return ErrHabitNotFound
	}

	doc[storageKey][idx].CompletedDates = slices.DeleteFunc(doc[storageKey][idx].CompletedDates, func(d string) bool { return d == date })
	return f.write(doc)
}

func (f *FileStore) read() (fileDocument, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		doc := fileDocument{storageKey: seedHabits(MonthOf(time.Now()))}
		if err := f.write(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read habit file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode habit file: %w", err)
	}
	if doc == nil {
		doc = fileDocument{}
	}
	if doc[storageKey] == nil {
		doc[storageKey] = []fileHabit{}
	}
	return doc, nil
}

func (f *FileStore) write(doc fileDocument) error {
	if err := ensureParentDir(f.path); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode habit file: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o644); err != nil {
		return fmt.Errorf("write habit file: %w", err)
	}
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("habit file parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}

// seedHabits 返回演示数据：九个习惯及其在给定月份内的打卡日。
func seedHabits(month Month) []fileHabit {
	seed := []struct {
		name  string
		goal  int
		icon  string
		color string
		days  []int
	}{
		{"Stretch or do yoga", 5, "🧘", "primary", []int{3, 11, 19, 24}},
		{"Walk 10,000 steps", 7, "🚶", "success", []int{1, 4, 6, 7, 8, 22}},
		{"Read a book chapter", 15, "📚", "accent", []int{1, 2, 4, 6, 7, 10, 12, 16, 20, 21}},
		{"Declutter a space", 4, "🧹", "warning", []int{3, 10, 17, 24}},
		{"Floss", 20, "🦷", "primary", []int{1, 3, 5, 7, 9, 11, 13, 15, 16, 18, 21}},
		{"Play guitar", 10, "🎸", "accent", []int{2, 11, 12, 16, 19}},
		{"Call grandpa", 10, "📞", "success", []int{1, 4, 6, 8, 12, 22}},
		{"Volunteer", 3, "❤️", "accent", []int{15, 23}},
		{"Put $10 to savings", 10, "💰", "warning", []int{3, 14, 18, 21}},
	}

	habits := make([]fileHabit, 0, len(seed))
	for i, s := range seed {
		dates := make([]string, 0, len(s.days))
		for _, day := range s.days {
			dates = append(dates, month.DateString(day))
		}
		habits = append(habits, fileHabit{
			ID:             uint(i + 1),
			Name:           s.name,
			Goal:           s.goal,
			Icon:           s.icon,
			Color:          s.color,
			CompletedDates: dates,
		})
	}
	return habits
}
