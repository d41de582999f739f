// Package quiz 实现性格问卷到 AI 习惯建议的线性流程：
// 逐题作答 → 提交 → 审阅建议 → 按条接受。失败时回退到最后一题。
package quiz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/habitgrid/internal/service"
	"github.com/habitgrid/internal/store"
)

// Phase 表示流程所处的阶段。
type Phase string

const (
	// PhaseAnswering 正在回答第 Step 题。
	PhaseAnswering Phase = "answering"
	// PhaseSubmitting 答案已提交、等待建议返回，期间不允许重复提交。
	PhaseSubmitting Phase = "submitting"
	// PhaseReviewing 建议已返回，逐条接受或重新作答。
	PhaseReviewing Phase = "reviewing"
)

var (
	// ErrNotAnswering 在非答题阶段提交答案时返回。
	ErrNotAnswering = errors.New("quiz is not accepting answers")
	// ErrNotReviewing 在非审阅阶段接受建议时返回。
	ErrNotReviewing = errors.New("quiz has no suggestions to accept")
	// ErrBadSuggestionIndex 表示建议序号越界。
	ErrBadSuggestionIndex = errors.New("suggestion index out of range")
)

// Question 是一道单选题，选项值为描述性长句，原样提交给建议服务。
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Emoji   string   `json:"emoji"`
	Options []Option `json:"options"`
}

// Option 是题目的一个选项。
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Emoji string `json:"emoji"`
}

// Questions 是固定的五道性格问卷题。
var Questions = []Question{
	{
		ID:    "mainGoal",
		Text:  "What's your main goal right now?",
		Emoji: "🎯",
		Options: []Option{
			{Value: "Health & fitness – I want to feel stronger and more energetic", Label: "Health & Fitness", Emoji: "💪"},
			{Value: "Learning & growth – I want to expand my skills and knowledge", Label: "Learning & Growth", Emoji: "📚"},
			{Value: "Productivity – I want to get more done and build better routines", Label: "Productivity", Emoji: "⚡"},
			{Value: "Mindfulness & wellness – I want more calm and balance in life", Label: "Mindfulness", Emoji: "🧘"},
			{Value: "Financial discipline – I want to save more and spend wisely", Label: "Financial", Emoji: "💰"},
		},
	},
	{
		ID:    "schedule",
		Text:  "How would you describe your daily schedule?",
		Emoji: "📅",
		Options: []Option{
			{Value: "Very structured – I follow a tight schedule every day", Label: "Very Structured", Emoji: "🗂️"},
			{Value: "Somewhat flexible – I have a routine but can adapt", Label: "Somewhat Flexible", Emoji: "📋"},
			{Value: "Quite flexible – My days vary a lot", Label: "Quite Flexible", Emoji: "🌊"},
			{Value: "Chaotic – I struggle to maintain any routine", Label: "Chaotic", Emoji: "🌪️"},
		},
	},
	{
		ID:    "productiveTime",
		Text:  "When do you feel most productive?",
		Emoji: "⏰",
		Options: []Option{
			{Value: "Early morning (5-8am) – I'm a natural early bird", Label: "Early Morning", Emoji: "🌅"},
			{Value: "Morning (8am-12pm) – I hit my stride in the morning", Label: "Morning", Emoji: "☀️"},
			{Value: "Afternoon (12-5pm) – I get going after lunch", Label: "Afternoon", Emoji: "🌤️"},
			{Value: "Evening (5-9pm) – I work best in the evening", Label: "Evening", Emoji: "🌆"},
			{Value: "Night (9pm+) – I'm a night owl", Label: "Night Owl", Emoji: "🌙"},
		},
	},
	{
		ID:    "biggestChallenge",
		Text:  "What's your biggest personal challenge?",
		Emoji: "🧩",
		Options: []Option{
			{Value: "Staying consistent – I start things but don't finish them", Label: "Staying Consistent", Emoji: "🔄"},
			{Value: "Finding motivation – I struggle to get started", Label: "Finding Motivation", Emoji: "🔋"},
			{Value: "Managing time – I feel like there's never enough time", Label: "Managing Time", Emoji: "⏱️"},
			{Value: "Health & energy – I feel tired or unhealthy often", Label: "Health & Energy", Emoji: "🌿"},
			{Value: "Focus & distraction – I get easily distracted", Label: "Focus & Distraction", Emoji: "🎯"},
		},
	},
	{
		ID:    "preferredGrowth",
		Text:  "How do you prefer to grow and improve?",
		Emoji: "🌱",
		Options: []Option{
			{Value: "Solo practice – I like working on myself quietly and independently", Label: "Solo Practice", Emoji: "🧍"},
			{Value: "Social activities – I thrive with accountability partners or groups", Label: "Social", Emoji: "👥"},
			{Value: "Digital learning – I love apps, podcasts, and online content", Label: "Digital Learning", Emoji: "📱"},
			{Value: "Physical activity – I grow through movement and exercise", Label: "Physical", Emoji: "🏋️"},
			{Value: "Creative expression – I learn by creating, writing, or making things", Label: "Creative", Emoji: "🎨"},
		},
	},
}

// HabitAdder 是接受建议时的落地入口，由习惯状态仓库实现。
type HabitAdder interface {
	AddHabit(ctx context.Context, userID uint, name string, goal int, icon string) (*store.Habit, error)
}

// State 是对外暴露的流程快照。
type State struct {
	Phase       Phase                    `json:"phase"`
	Step        int                      `json:"step"`
	Question    *Question                `json:"question,omitempty"`
	Suggestions []service.SuggestedHabit `json:"suggestions,omitempty"`
	Accepted    []int                    `json:"accepted,omitempty"`
}

// Flow 持有一名用户的问卷进度。答案按题序累积，答完最后一题
// 自动提交；提交失败回退到最后一题并把错误交给调用方展示。
type Flow struct {
	suggester service.HabitSuggester
	adder     HabitAdder

	mu          sync.Mutex
	phase       Phase
	step        int
	answers     map[string]string
	suggestions []service.SuggestedHabit
	accepted    map[int]bool
	pending     map[int]bool
}

// NewFlow 构造停在第一题的新流程。
func NewFlow(suggester service.HabitSuggester, adder HabitAdder) *Flow {
	return &Flow{
		suggester: suggester,
		adder:     adder,
		phase:     PhaseAnswering,
		answers:   map[string]string{},
		accepted:  map[int]bool{},
		pending:   map[int]bool{},
	}
}

// State 返回当前快照。
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Flow) stateLocked() State {
	s := State{Phase: f.phase, Step: f.step}
	if f.phase == PhaseAnswering && f.step < len(Questions) {
		q := Questions[f.step]
		s.Question = &q
	}
	if f.phase == PhaseReviewing {
		s.Suggestions = f.suggestions
		accepted := make([]int, 0, len(f.accepted))
		for idx := range f.accepted {
			accepted = append(accepted, idx)
		}
		slices.Sort(accepted)
		s.Accepted = accepted
	}
	return s
}

// Answer 记录当前题的答案并前进。回答最后一题会触发一次提交：
// 成功进入审阅阶段；失败或响应不合法则回退到最后一题，不展示部分结果。
func (f *Flow) Answer(ctx context.Context, value string) (State, error) {
	f.mu.Lock()
	if f.phase != PhaseAnswering {
		defer f.mu.Unlock()
		return f.stateLocked(), ErrNotAnswering
	}

	f.answers[Questions[f.step].ID] = value

	if f.step < len(Questions)-1 {
		f.step++
		defer f.mu.Unlock()
		return f.stateLocked(), nil
	}

	// 最后一题：标记提交中，阻止重复提交
	f.phase = PhaseSubmitting
	answers := service.QuizAnswers{
		MainGoal:         f.answers["mainGoal"],
		Schedule:         f.answers["schedule"],
		ProductiveTime:   f.answers["productiveTime"],
		BiggestChallenge: f.answers["biggestChallenge"],
		PreferredGrowth:  f.answers["preferredGrowth"],
	}
	f.mu.Unlock()

	suggestions, err := f.suggester.SuggestHabits(ctx, answers)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		// 回退到最后一题，保留已有答案
		f.phase = PhaseAnswering
		f.step = len(Questions) - 1
		return f.stateLocked(), fmt.Errorf("suggest habits: %w", err)
	}

	f.phase = PhaseReviewing
	f.suggestions = suggestions
	f.accepted = map[int]bool{}
	f.pending = map[int]bool{}
	return f.stateLocked(), nil
}

// Accept 把第 index 条建议加入习惯列表。同一条建议只会落地一次，
// 重复接受是无副作用的幂等操作。序号在临界区内先被占用再发起落地，
// 并发的重复接受只有一个会真正调用 AddHabit；失败时释放占用以便重试。
func (f *Flow) Accept(ctx context.Context, userID uint, index int) (State, error) {
	f.mu.Lock()
	if f.phase != PhaseReviewing {
		defer f.mu.Unlock()
		return f.stateLocked(), ErrNotReviewing
	}
	if index < 0 || index >= len(f.suggestions) {
		defer f.mu.Unlock()
		return f.stateLocked(), ErrBadSuggestionIndex
	}
	if f.accepted[index] || f.pending[index] {
		defer f.mu.Unlock()
		return f.stateLocked(), nil
	}
	f.pending[index] = true
	suggestion := f.suggestions[index]
	f.mu.Unlock()

	_, err := f.adder.AddHabit(ctx, userID, suggestion.Name, suggestion.Goal, suggestion.Icon)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, index)
	if err != nil {
		return f.stateLocked(), fmt.Errorf("accept suggestion: %w", err)
	}
	// 落地期间流程可能已被 Retake 重置，此时不再记录
	if f.phase == PhaseReviewing {
		f.accepted[index] = true
	}
	return f.stateLocked(), nil
}

// Retake 无条件清空全部问卷状态，回到第一题。
func (f *Flow) Retake() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = PhaseAnswering
	f.step = 0
	f.answers = map[string]string{}
	f.suggestions = nil
	f.accepted = map[int]bool{}
	f.pending = map[int]bool{}
	return f.stateLocked()
}
