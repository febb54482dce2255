package biz

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NotConfident 生成的回答无法在上下文中找到依据时的固定回答。
const NotConfident = "I'm not confident in my answer based on the available information. " +
	"Could you try rephrasing your question or providing more context?"

// groundedRatio 回答中至少有这一比例的实词出现在上下文里才视为有依据。
const groundedRatio = 0.5

// refusalMarkers 出现即说明模型没有给出基于上下文的回答。
var refusalMarkers = []string{
	"as an ai",
	"i'm sorry",
	"i apologize",
	"i cannot",
	"i don't have",
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "are": {}, "was": {}, "were": {}, "for": {},
}

// IsGrounded 判断回答是否有上下文依据：拒答或空回答不算；
// 其余情况下，长度超过两个字符的非停用词至少一半要在上下文中出现。
func IsGrounded(answer string, excerpts []string) bool {
	lower := strings.ToLower(strings.TrimSpace(answer))
	if lower == "" {
		return false
	}
	// 模型常用弯引号
	normalized := strings.ReplaceAll(lower, "’", "'")
	for _, marker := range refusalMarkers {
		if strings.Contains(normalized, marker) {
			return false
		}
	}

	words := contentWords(lower)
	if len(words) == 0 {
		return false
	}

	haystack := strings.ToLower(strings.Join(excerpts, " "))
	matched := 0
	for w := range words {
		if strings.Contains(haystack, w) {
			matched++
		}
	}
	return float64(matched) >= groundedRatio*float64(len(words))
}

func contentWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		words[f] = struct{}{}
	}
	return words
}
