package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrAIAPIKeyMissing 表示未配置 AI 平台的 API Key。
	ErrAIAPIKeyMissing = errors.New("api key is required")
	// ErrSuggestRateLimited 对应 429：请求被限流，稍后可重试。
	ErrSuggestRateLimited = errors.New("suggestion service rate limited")
	// ErrSuggestQuotaExhausted 对应 402：额度耗尽，需要充值。
	ErrSuggestQuotaExhausted = errors.New("suggestion service credits exhausted")
	// ErrSuggestMalformed 表示模型返回的建议不满足约定结构，整体丢弃。
	ErrSuggestMalformed = errors.New("malformed suggestion response")
)

const (
	suggestionCount      = 5
	maxSuggestNameRunes  = 50
	suggestToolName      = "suggest_habits"
	defaultSuggestModel  = "gpt-4o-mini"
	suggestClientTimeout = 180 * time.Second
)

// suggestionCategories 是建议习惯允许的分类闭集。
var suggestionCategories = map[string]struct{}{
	"health":       {},
	"learning":     {},
	"productivity": {},
	"mindfulness":  {},
	"social":       {},
}

const suggestSystemPrompt = `You are a habit coach and behavioral psychologist. Based on a user's personality quiz answers, suggest 5 highly personalized daily habits that will genuinely help them improve their life.

Each habit should:
- Be specific and actionable
- Match their schedule and lifestyle
- Address their goals and challenges
- Be realistic (not overly ambitious)
- Have a motivational description

Always use tool calling to return structured habit suggestions.`

// suggestToolParameters 是 suggest_habits 工具的 JSON Schema：
// 恰好五条建议，分类限定在闭集内。
const suggestToolParameters = `{
  "type": "object",
  "properties": {
    "habits": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "description": "Short habit name (max 50 chars)"},
          "description": {"type": "string", "description": "Why this habit suits them (1-2 sentences)"},
          "icon": {"type": "string", "description": "Single emoji that represents this habit"},
          "goal": {"type": "number", "description": "Recommended monthly goal (days, 1-30)"},
          "category": {"type": "string", "enum": ["health", "learning", "productivity", "mindfulness", "social"]}
        },
        "required": ["name", "description", "icon", "goal", "category"],
        "additionalProperties": false
      },
      "minItems": 5,
      "maxItems": 5
    }
  },
  "required": ["habits"],
  "additionalProperties": false
}`

// QuizAnswers 携带五道性格问卷的选项原文（自由文本）。
type QuizAnswers struct {
	MainGoal         string `json:"mainGoal"`
	Schedule         string `json:"schedule"`
	ProductiveTime   string `json:"productiveTime"`
	BiggestChallenge string `json:"biggestChallenge"`
	PreferredGrowth  string `json:"preferredGrowth"`
}

// SuggestedHabit 是模型返回的单条习惯建议。
type SuggestedHabit struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Goal        int    `json:"goal"`
	Category    string `json:"category"`
}

// HabitSuggester 定义习惯建议能力，便于在问卷流程中注入不同实现。
type HabitSuggester interface {
	SuggestHabits(ctx context.Context, answers QuizAnswers) ([]SuggestedHabit, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatCompletionRequest struct {
	Model      string          `json:"model"`
	Messages   []chatMessage   `json:"messages"`
	Tools      []chatTool      `json:"tools,omitempty"`
	ToolChoice *chatToolChoice `json:"tool_choice,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// AISuggestService 调用 OpenAI 兼容的 chat completions 接口，
// 通过强制工具调用拿到结构化的习惯建议。
type AISuggestService struct {
	http    httpDoer
	apiKey  string
	baseURL string
	model   string
}

var _ HabitSuggester = (*AISuggestService)(nil)

// NewAISuggestService 构造 AISuggestService，空 model 回退到默认模型。
func NewAISuggestService(apiKey, baseURL, model string) *AISuggestService {
	if strings.TrimSpace(model) == "" {
		model = defaultSuggestModel
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &AISuggestService{
		http:    &http.Client{Timeout: suggestClientTimeout},
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   strings.TrimSpace(model),
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *AISuggestService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: suggestClientTimeout}
		return
	}
	s.http = client
}

// SetBaseURL 覆盖默认的 API 地址。
func (s *AISuggestService) SetBaseURL(base string) {
	s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
}

// SetModel 指定建议所使用的模型名称。
func (s *AISuggestService) SetModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	s.model = model
}

// SuggestHabits 提交问卷答案并返回恰好五条建议。
// 429/402 映射为可区分的错误；结构不符的响应整体拒绝，不给出部分结果。
func (s *AISuggestService) SuggestHabits(ctx context.Context, answers QuizAnswers) ([]SuggestedHabit, error) {
	if s.apiKey == "" {
		return nil, ErrAIAPIKeyMissing
	}

	userPrompt := buildSuggestPrompt(answers)
	logSuggestExchange("prompt", userPrompt)

	payload := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: suggestSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Tools: []chatTool{{
			Type: "function",
			Function: chatToolFunction{
				Name:        suggestToolName,
				Description: "Return 5 personalized habit suggestions based on personality assessment.",
				Parameters:  json.RawMessage(suggestToolParameters),
			},
		}},
		ToolChoice: forcedToolChoice(suggestToolName),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}

	endpoint := s.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建建议请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "habitgrid-ai/1.0")

	client := s.http
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求建议接口失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取建议响应失败: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, ErrSuggestRateLimited
	case http.StatusPaymentRequired:
		return nil, ErrSuggestQuotaExhausted
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("解析建议响应失败: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = strings.TrimSpace(string(respBody))
		}
		if errMsg == "" {
			errMsg = resp.Status
		}
		return nil, fmt.Errorf("建议接口返回错误：%s", errMsg)
	}

	if len(completion.Choices) == 0 || len(completion.Choices[0].Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: no tool call in response", ErrSuggestMalformed)
	}

	arguments := completion.Choices[0].Message.ToolCalls[0].Function.Arguments
	logSuggestExchange("response", arguments)

	var parsed struct {
		Habits []SuggestedHabit `json:"habits"`
	}
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuggestMalformed, err)
	}

	if err := validateSuggestions(parsed.Habits); err != nil {
		return nil, err
	}
	return parsed.Habits, nil
}

func forcedToolChoice(name string) *chatToolChoice {
	choice := &chatToolChoice{Type: "function"}
	choice.Function.Name = name
	return choice
}

func buildSuggestPrompt(answers QuizAnswers) string {
	var builder strings.Builder
	builder.WriteString("Here are the personality quiz answers:\n\n")
	builder.WriteString("Main Goal: " + answers.MainGoal + "\n")
	builder.WriteString("Schedule Type: " + answers.Schedule + "\n")
	builder.WriteString("Peak Productive Time: " + answers.ProductiveTime + "\n")
	builder.WriteString("Biggest Challenge: " + answers.BiggestChallenge + "\n")
	builder.WriteString("Preferred Growth Style: " + answers.PreferredGrowth + "\n\n")
	builder.WriteString("Suggest 5 personalized habits tailored to this person's personality and goals.")
	return builder.String()
}

// validateSuggestions 校验约定结构：恰好五条，名称非空且不超长，
// 目标在 1~30 之间，分类属于闭集。任何一条不合法都整体拒绝。
func validateSuggestions(habits []SuggestedHabit) error {
	if len(habits) != suggestionCount {
		return fmt.Errorf("%w: expected %d habits, got %d", ErrSuggestMalformed, suggestionCount, len(habits))
	}

	for i, h := range habits {
		name := strings.TrimSpace(h.Name)
		if name == "" || utf8.RuneCountInString(name) > maxSuggestNameRunes {
			return fmt.Errorf("%w: invalid name at index %d", ErrSuggestMalformed, i)
		}
		if h.Goal < 1 || h.Goal > 30 {
			return fmt.Errorf("%w: goal out of range at index %d", ErrSuggestMalformed, i)
		}
		if _, ok := suggestionCategories[h.Category]; !ok {
			return fmt.Errorf("%w: unknown category %q at index %d", ErrSuggestMalformed, h.Category, i)
		}
	}
	return nil
}
