package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/quiz"
	"github.com/habitgrid/internal/service"
)

type stubSuggester struct {
	err error
}

func (s stubSuggester) SuggestHabits(ctx context.Context, answers service.QuizAnswers) ([]service.SuggestedHabit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []service.SuggestedHabit{
		{Name: "Morning run", Description: "Start the day **strong**.", Icon: "🏃", Goal: 12, Category: "health"},
		{Name: "Read 20 pages", Description: "Feed your curiosity.", Icon: "📚", Goal: 20, Category: "learning"},
		{Name: "Deep work block", Description: "Guard your focus.", Icon: "⚡", Goal: 15, Category: "productivity"},
		{Name: "Evening journal", Description: "Unwind and reflect.", Icon: "📓", Goal: 10, Category: "mindfulness"},
		{Name: "Call a friend", Description: "Stay connected.", Icon: "📞", Goal: 4, Category: "social"},
	}, nil
}

func newQuizTestAPI(t *testing.T, suggester service.HabitSuggester) (*API, *fakeRemote) {
	t.Helper()
	ginOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
	remote := newFakeRemote()
	return NewAPI(remote, suggester), remote
}

func answerAllQuestions(t *testing.T, api *API) map[string]any {
	t.Helper()
	var payload map[string]any
	for _, q := range quiz.Questions {
		rec, body := invoke(t, api.SubmitQuizAnswer, http.MethodPost, "/api/quiz/answers", map[string]any{"answer": q.Options[0].Value}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("answer %s: expected status 200, got %d (%v)", q.ID, rec.Code, body)
		}
		payload = body
	}
	return payload
}

func TestGetQuizStartsAtFirstQuestion(t *testing.T) {
	api, _ := newQuizTestAPI(t, stubSuggester{})

	w, payload := invoke(t, api.GetQuiz, http.MethodGet, "/api/quiz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if payload["phase"] != string(quiz.PhaseAnswering) || payload["step"] != float64(0) {
		t.Fatalf("unexpected initial state: %v", payload)
	}
	question := payload["question"].(map[string]any)
	if question["id"] != "mainGoal" {
		t.Fatalf("expected first question mainGoal, got %v", question["id"])
	}
	if payload["total"] != float64(len(quiz.Questions)) {
		t.Fatalf("expected total %d, got %v", len(quiz.Questions), payload["total"])
	}
}

func TestQuizAnswersLeadToRenderedSuggestions(t *testing.T) {
	api, _ := newQuizTestAPI(t, stubSuggester{})

	payload := answerAllQuestions(t, api)
	if payload["phase"] != string(quiz.PhaseReviewing) {
		t.Fatalf("expected reviewing phase, got %v", payload["phase"])
	}

	suggestions := payload["suggestions"].([]any)
	if len(suggestions) != 5 {
		t.Fatalf("expected 5 suggestions, got %d", len(suggestions))
	}

	first := suggestions[0].(map[string]any)
	if first["name"] != "Morning run" {
		t.Fatalf("unexpected first suggestion: %v", first)
	}
	renderedHTML := first["descriptionHtml"].(string)
	if !strings.Contains(renderedHTML, "<strong>strong</strong>") {
		t.Fatalf("expected markdown rendered to HTML, got %q", renderedHTML)
	}
}

func TestQuizSubmitFailureMapsStatus(t *testing.T) {
	api, _ := newQuizTestAPI(t, stubSuggester{err: service.ErrSuggestRateLimited})

	var lastCode int
	var lastPayload map[string]any
	for i, q := range quiz.Questions {
		rec, body := invoke(t, api.SubmitQuizAnswer, http.MethodPost, "/api/quiz/answers", map[string]any{"answer": q.Options[0].Value}, nil)
		lastCode, lastPayload = rec.Code, body
		if i < len(quiz.Questions)-1 && rec.Code != http.StatusOK {
			t.Fatalf("answer %d: expected status 200, got %d", i, rec.Code)
		}
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", lastCode)
	}
	// 回退到最后一题，等待重试
	if lastPayload["phase"] != string(quiz.PhaseAnswering) || lastPayload["step"] != float64(len(quiz.Questions)-1) {
		t.Fatalf("expected rewind to last question, got %v", lastPayload)
	}
}

func TestAcceptSuggestionIsIdempotent(t *testing.T) {
	api, remote := newQuizTestAPI(t, stubSuggester{})
	answerAllQuestions(t, api)

	params := gin.Params{{Key: "index", Value: "2"}}
	for i := 0; i < 2; i++ {
		w, _ := invoke(t, api.AcceptSuggestion, http.MethodPost, "/api/quiz/suggestions/2/accept", nil, params)
		if w.Code != http.StatusOK {
			t.Fatalf("accept %d: expected status 200, got %d", i, w.Code)
		}
	}

	if remote.insertHabitCalls != 1 {
		t.Fatalf("expected exactly one habit insert, got %d", remote.insertHabitCalls)
	}
	if len(remote.habits) != 1 {
		t.Fatalf("expected one habit persisted, got %d", len(remote.habits))
	}
	for _, row := range remote.habits {
		if row.Name != "Deep work block" || row.Goal != 15 {
			t.Fatalf("unexpected persisted habit: %+v", row)
		}
	}
}

func TestAcceptSuggestionValidatesIndex(t *testing.T) {
	api, _ := newQuizTestAPI(t, stubSuggester{})

	// 未提交问卷前不能接受
	params := gin.Params{{Key: "index", Value: "0"}}
	w, _ := invoke(t, api.AcceptSuggestion, http.MethodPost, "/api/quiz/suggestions/0/accept", nil, params)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 before reviewing, got %d", w.Code)
	}

	answerAllQuestions(t, api)
	params = gin.Params{{Key: "index", Value: "9"}}
	w, _ = invoke(t, api.AcceptSuggestion, http.MethodPost, "/api/quiz/suggestions/9/accept", nil, params)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for bad index, got %d", w.Code)
	}
}

func TestRetakeQuizResetsFlow(t *testing.T) {
	api, _ := newQuizTestAPI(t, stubSuggester{})
	answerAllQuestions(t, api)

	w, payload := invoke(t, api.RetakeQuiz, http.MethodPost, "/api/quiz/retake", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if payload["phase"] != string(quiz.PhaseAnswering) || payload["step"] != float64(0) {
		t.Fatalf("expected reset state, got %v", payload)
	}
	if payload["suggestions"] != nil {
		t.Fatal("retake must clear suggestions")
	}
}

func TestRenderDescriptionSanitizesMarkup(t *testing.T) {
	rendered := renderDescription("Stay **focused** <script>alert(1)</script>")
	if !strings.Contains(rendered, "<strong>focused</strong>") {
		t.Fatalf("expected markdown emphasis, got %q", rendered)
	}
	if strings.Contains(rendered, "<script>") {
		t.Fatalf("expected script stripped, got %q", rendered)
	}
}
