package service

import (
	"log"
	"strings"
	"unicode/utf8"
)

const maxSuggestLogRunes = 1024

// logSuggestExchange 输出建议请求与响应的关键内容，截断超长文本，
// 方便排查模型给出的建议为何被整体拒绝。
func logSuggestExchange(phase, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Printf("[AI SUGGEST] %s: <empty>", phase)
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxSuggestLogRunes {
		snippet = string([]rune(trimmed)[:maxSuggestLogRunes]) + "…(truncated)"
	}
	log.Printf("[AI SUGGEST] %s (runes=%d): %s", phase, runeCount, snippet)
}
