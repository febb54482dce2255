package biz

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
)

const contextSeparator = "\n\n"

// ContextBlock 组装好的生成上下文。
type ContextBlock struct {
	// Text 传给模型的上下文文本。
	Text string
	// Excerpts 实际放入上下文的片段原文，顺序与上下文一致。
	Excerpts []string
	// Truncated 首个片段是否因超出预算被截断。
	Truncated bool
}

func formatExcerpt(n int, filename, text string) string {
	return fmt.Sprintf("[%d] (%s) %s", n, filename, text)
}

// BuildContext 按得分从高到低组装上下文，总长度（以字符计）不超过 maxChars。
// 超出预算时先丢弃得分最低的片段；若得分最高的片段本身超出预算，则截断其文本。
// maxChars <= 0 表示不限制。
func BuildContext(hits []vectorindex.Hit, maxChars int) ContextBlock {
	var (
		sb    strings.Builder
		block ContextBlock
		used  int
	)

	for k, hit := range hits {
		part := formatExcerpt(k+1, hit.Metadata.Filename, hit.Metadata.Text)
		size := utf8.RuneCountInString(part)
		if k > 0 {
			size += utf8.RuneCountInString(contextSeparator)
		}

		if maxChars > 0 && used+size > maxChars {
			if k > 0 {
				break
			}
			header := formatExcerpt(1, hit.Metadata.Filename, "")
			room := maxChars - utf8.RuneCountInString(header)
			if room <= 0 {
				break
			}
			excerpt := truncateRunes(hit.Metadata.Text, room)
			sb.WriteString(header + excerpt)
			block.Excerpts = append(block.Excerpts, excerpt)
			block.Truncated = true
			break
		}

		if k > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(part)
		block.Excerpts = append(block.Excerpts, hit.Metadata.Text)
		used += size
	}

	block.Text = sb.String()
	return block
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// RenderPrompt 将上下文与问题代入模板。替换一次完成，代入的文本不会被再次展开。
func RenderPrompt(template, context, question string) string {
	return strings.NewReplacer("{{context}}", context, "{{question}}", question).Replace(template)
}
