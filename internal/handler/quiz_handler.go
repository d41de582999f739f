package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/habitgrid/internal/quiz"
	"github.com/habitgrid/internal/service"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	descriptionSanitizer = bluemonday.UGCPolicy()
)

type quizAnswerPayload struct {
	Answer string `json:"answer"`
}

// GetQuiz 返回问卷的当前状态：答题阶段带当前题目，
// 审阅阶段带建议列表和已接受的序号。
func (a *API) GetQuiz(c *gin.Context) {
	flow := a.flowFor(currentUserID(c))
	c.JSON(http.StatusOK, quizStatePayload(flow.State()))
}

// SubmitQuizAnswer 记录一个选项。答完最后一题会阻塞等待建议生成，
// 生成失败回退到最后一题并返回可区分的错误。
func (a *API) SubmitQuizAnswer(c *gin.Context) {
	var payload quizAnswerPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if payload.Answer == "" {
		respondError(c, http.StatusBadRequest, "请选择一个选项")
		return
	}

	flow := a.flowFor(currentUserID(c))
	state, err := flow.Answer(c.Request.Context(), payload.Answer)
	if err != nil {
		respondQuizError(c, state, err)
		return
	}

	c.JSON(http.StatusOK, quizStatePayload(state))
}

// AcceptSuggestion 把指定序号的建议加入习惯列表，重复接受不会重复落地。
func (a *API) AcceptSuggestion(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的建议序号")
		return
	}

	userID := currentUserID(c)
	flow := a.flowFor(userID)
	state, err := flow.Accept(c.Request.Context(), userID, index)
	if err != nil {
		respondQuizError(c, state, err)
		return
	}

	c.JSON(http.StatusOK, quizStatePayload(state))
}

// RetakeQuiz 清空问卷进度，回到第一题。
func (a *API) RetakeQuiz(c *gin.Context) {
	flow := a.flowFor(currentUserID(c))
	c.JSON(http.StatusOK, quizStatePayload(flow.Retake()))
}

func respondQuizError(c *gin.Context, state quiz.State, err error) {
	status := http.StatusBadGateway
	message := "生成建议失败，请稍后重试"

	switch {
	case errors.Is(err, quiz.ErrNotAnswering), errors.Is(err, quiz.ErrNotReviewing):
		status, message = http.StatusConflict, "问卷状态不允许该操作"
	case errors.Is(err, quiz.ErrBadSuggestionIndex):
		status, message = http.StatusNotFound, "建议不存在"
	case errors.Is(err, service.ErrSuggestRateLimited):
		status, message = http.StatusTooManyRequests, "请求过于频繁，请稍后重试"
	case errors.Is(err, service.ErrSuggestQuotaExhausted):
		status, message = http.StatusPaymentRequired, "AI 额度已用尽"
	case errors.Is(err, service.ErrAIAPIKeyMissing):
		status, message = http.StatusServiceUnavailable, "未配置 AI 服务"
	}

	payload := quizStatePayload(state)
	payload["error"] = message
	c.JSON(status, payload)
}

func quizStatePayload(state quiz.State) gin.H {
	payload := gin.H{
		"phase": state.Phase,
		"step":  state.Step,
		"total": len(quiz.Questions),
	}
	if state.Question != nil {
		payload["question"] = state.Question
	}
	if state.Phase == quiz.PhaseReviewing {
		suggestions := make([]gin.H, 0, len(state.Suggestions))
		for _, s := range state.Suggestions {
			suggestions = append(suggestions, gin.H{
				"name":            s.Name,
				"description":     s.Description,
				"descriptionHtml": renderDescription(s.Description),
				"icon":            s.Icon,
				"goal":            s.Goal,
				"category":        s.Category,
			})
		}
		payload["suggestions"] = suggestions
		accepted := state.Accepted
		if accepted == nil {
			accepted = []int{}
		}
		payload["accepted"] = accepted
	}
	return payload
}

// renderDescription 把建议描述中的 Markdown 转成净化后的 HTML。
// 转换失败时退回原文。
func renderDescription(markdown string) string {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(markdown), &buf); err != nil {
		return descriptionSanitizer.Sanitize(markdown)
	}
	return descriptionSanitizer.Sanitize(buf.String())
}
