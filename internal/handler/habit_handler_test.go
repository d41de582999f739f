package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/store"
)

var ginOnce sync.Once

type fakeRemote struct {
	mu     sync.Mutex
	nextID uint
	order  []uint
	habits map[uint]store.HabitRow
	comps  map[uint]map[string]bool

	insertHabitCalls int

	insertCompletionErr error
	deleteCompletionErr error
	updateErr           error
	deleteErr           error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		habits: map[uint]store.HabitRow{},
		comps:  map[uint]map[string]bool{},
	}
}

func (f *fakeRemote) ListHabits(ctx context.Context, userID uint) ([]store.HabitRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]store.HabitRow, 0, len(f.order))
	for _, id := range f.order {
		rows = append(rows, f.habits[id])
	}
	return rows, nil
}

func (f *fakeRemote) InsertHabit(ctx context.Context, userID uint, name string, goal int, icon, color string) (store.HabitRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertHabitCalls++
	f.nextID++
	row := store.HabitRow{ID: f.nextID, Name: name, Goal: goal, Icon: icon, Color: color}
	f.habits[row.ID] = row
	f.order = append(f.order, row.ID)
	f.comps[row.ID] = map[string]bool{}
	return row, nil
}

func (f *fakeRemote) UpdateHabit(ctx context.Context, habitID, userID uint, name string, goal int, icon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	row, ok := f.habits[habitID]
	if !ok {
		return fmt.Errorf("habit %d missing", habitID)
	}
	row.Name, row.Goal, row.Icon = name, goal, icon
	f.habits[habitID] = row
	return nil
}

func (f *fakeRemote) DeleteHabit(ctx context.Context, habitID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.habits, habitID)
	delete(f.comps, habitID)
	for i, id := range f.order {
		if id == habitID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRemote) ListCompletions(ctx context.Context, userID uint, dateFrom, dateTo string) ([]store.CompletionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]store.CompletionRow, 0)
	for habitID, dates := range f.comps {
		for date := range dates {
			if date >= dateFrom && date <= dateTo {
				rows = append(rows, store.CompletionRow{HabitID: habitID, Date: date})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

func (f *fakeRemote) InsertCompletion(ctx context.Context, habitID, userID uint, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertCompletionErr != nil {
		return f.insertCompletionErr
	}
	f.comps[habitID][date] = true
	return nil
}

func (f *fakeRemote) DeleteCompletion(ctx context.Context, habitID uint, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteCompletionErr != nil {
		return f.deleteCompletionErr
	}
	delete(f.comps[habitID], date)
	return nil
}

func newTestAPI(t *testing.T) (*API, *fakeRemote) {
	t.Helper()
	ginOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
	remote := newFakeRemote()
	return NewAPI(remote, nil), remote
}

// invoke 以已登录用户身份直接调用单个 handler。
func invoke(t *testing.T, handlerFn gin.HandlerFunc, method, target string, body any, params gin.Params) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	c.Set(userIDContextKey, uint(1))

	handlerFn(c)

	decoded := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func boardHabits(t *testing.T, payload map[string]any) []map[string]any {
	t.Helper()
	raw, ok := payload["habits"].([]any)
	if !ok {
		t.Fatalf("response has no habits array: %v", payload)
	}
	habits := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		habits = append(habits, item.(map[string]any))
	}
	return habits
}

func completedDays(t *testing.T, habit map[string]any) []int {
	t.Helper()
	raw, ok := habit["completedDays"].([]any)
	if !ok {
		return nil
	}
	days := make([]int, 0, len(raw))
	for _, d := range raw {
		days = append(days, int(d.(float64)))
	}
	return days
}

func TestGetBoardProjectsMonth(t *testing.T) {
	api, remote := newTestAPI(t)

	row, _ := remote.InsertHabit(context.Background(), 1, "晨跑", 10, "🏃", "primary")
	remote.comps[row.ID]["2024-03-05"] = true
	remote.comps[row.ID]["2024-03-12"] = true
	remote.comps[row.ID]["2024-04-01"] = true

	w, payload := invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-03", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if payload["month"] != "2024-03" {
		t.Fatalf("expected month 2024-03, got %v", payload["month"])
	}
	if payload["days"] != float64(31) {
		t.Fatalf("expected 31 days, got %v", payload["days"])
	}

	habits := boardHabits(t, payload)
	if len(habits) != 1 {
		t.Fatalf("expected 1 habit, got %d", len(habits))
	}
	days := completedDays(t, habits[0])
	if len(days) != 2 || days[0] != 5 || days[1] != 12 {
		t.Fatalf("expected completed days [5 12], got %v", days)
	}

	stats := payload["stats"].(map[string]any)
	if stats["totalCompleted"] != float64(2) || stats["totalGoals"] != float64(10) {
		t.Fatalf("unexpected stats: %v", stats)
	}
	if stats["successRate"] != float64(20) {
		t.Fatalf("expected success rate 20, got %v", stats["successRate"])
	}
}

func TestGetBoardRejectsBadMonth(t *testing.T) {
	api, _ := newTestAPI(t)

	w, _ := invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-13", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCreateHabitRequiresName(t *testing.T) {
	api, remote := newTestAPI(t)

	w, _ := invoke(t, api.CreateHabit, http.MethodPost, "/api/habits", map[string]any{"name": "   ", "goal": 10}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if remote.insertHabitCalls != 0 {
		t.Fatalf("empty name must not reach the remote, got %d calls", remote.insertHabitCalls)
	}
}

func TestCreateHabitReturnsPersistedHabit(t *testing.T) {
	api, _ := newTestAPI(t)

	w, payload := invoke(t, api.CreateHabit, http.MethodPost, "/api/habits", map[string]any{"name": "阅读", "goal": 15, "icon": "📚"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	habit := payload["habit"].(map[string]any)
	if habit["id"] == float64(0) || habit["name"] != "阅读" || habit["goal"] != float64(15) {
		t.Fatalf("unexpected habit payload: %v", habit)
	}
	if habit["color"] == "" {
		t.Fatal("expected a color to be assigned")
	}
}

func TestToggleDayRoundTrip(t *testing.T) {
	api, remote := newTestAPI(t)
	row, _ := remote.InsertHabit(context.Background(), 1, "冥想", 10, "🧘", "accent")

	// 先切到确定的月份
	invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-03", nil, nil)

	params := gin.Params{{Key: "id", Value: fmt.Sprint(row.ID)}, {Key: "day", Value: "7"}}
	w, payload := invoke(t, api.ToggleDay, http.MethodPost, "/api/habits/1/days/7/toggle", nil, params)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	habits := boardHabits(t, payload)
	if days := completedDays(t, habits[0]); len(days) != 1 || days[0] != 7 {
		t.Fatalf("expected day 7 marked, got %v", days)
	}
	if !remote.comps[row.ID]["2024-03-07"] {
		t.Fatal("expected completion persisted as 2024-03-07")
	}

	// 再次翻转取消打卡
	w, payload = invoke(t, api.ToggleDay, http.MethodPost, "/api/habits/1/days/7/toggle", nil, params)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	habits = boardHabits(t, payload)
	if days := completedDays(t, habits[0]); len(days) != 0 {
		t.Fatalf("expected day unmarked, got %v", days)
	}
}

func TestToggleDayValidatesDay(t *testing.T) {
	api, remote := newTestAPI(t)
	row, _ := remote.InsertHabit(context.Background(), 1, "冥想", 10, "🧘", "accent")
	invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-04", nil, nil)

	for _, day := range []string{"0", "31", "abc"} {
		params := gin.Params{{Key: "id", Value: fmt.Sprint(row.ID)}, {Key: "day", Value: day}}
		w, _ := invoke(t, api.ToggleDay, http.MethodPost, "/api/habits/1/days/"+day+"/toggle", nil, params)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("day %s: expected status 400, got %d", day, w.Code)
		}
	}
}

func TestToggleDayRemoteFailureReturnsReloadedBoard(t *testing.T) {
	api, remote := newTestAPI(t)
	row, _ := remote.InsertHabit(context.Background(), 1, "写日记", 20, "📓", "warning")
	remote.comps[row.ID]["2024-03-02"] = true

	invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-03", nil, nil)

	remote.insertCompletionErr = fmt.Errorf("db down")
	params := gin.Params{{Key: "id", Value: fmt.Sprint(row.ID)}, {Key: "day", Value: "9"}}
	w, payload := invoke(t, api.ToggleDay, http.MethodPost, "/api/habits/1/days/9/toggle", nil, params)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", w.Code)
	}
	if payload["error"] == nil {
		t.Fatal("expected error message in payload")
	}

	// 失败响应携带回滚后的权威状态
	habits := boardHabits(t, payload)
	if days := completedDays(t, habits[0]); len(days) != 1 || days[0] != 2 {
		t.Fatalf("expected reconciled days [2], got %v", days)
	}
}

func TestUpdateHabitUnknownID(t *testing.T) {
	api, _ := newTestAPI(t)
	invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-03", nil, nil)

	params := gin.Params{{Key: "id", Value: "42"}}
	w, _ := invoke(t, api.UpdateHabit, http.MethodPut, "/api/habits/42", map[string]any{"name": "x", "goal": 5}, params)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestDeleteHabitReturnsName(t *testing.T) {
	api, remote := newTestAPI(t)
	row, _ := remote.InsertHabit(context.Background(), 1, "弹吉他", 10, "🎸", "accent")
	invoke(t, api.GetBoard, http.MethodGet, "/api/board?month=2024-03", nil, nil)

	params := gin.Params{{Key: "id", Value: fmt.Sprint(row.ID)}}
	w, payload := invoke(t, api.DeleteHabit, http.MethodDelete, "/api/habits/1", nil, params)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if payload["name"] != "弹吉他" || payload["deleted"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if len(remote.habits) != 0 {
		t.Fatal("expected habit removed from remote")
	}
}
