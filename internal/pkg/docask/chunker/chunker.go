// Package chunker 将规范化后的文本切分为带重叠的片段。
//
// 长度单位为 Unicode 码点（rune），偏移量同样以 rune 计。切分优先落在
// 段落、换行、句子、单词边界上，窗口内找不到边界时在 TargetSize 处硬切。
// 相邻片段恰好共享 Overlap 个 rune，因此去掉重叠后按顺序拼接即可还原原文。
package chunker

import (
	"strings"
	"unicode"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

const (
	// DefaultTargetSize 默认片段长度。
	DefaultTargetSize = 1000
	// DefaultOverlap 默认重叠长度。
	DefaultOverlap = 200
)

// Chunk 文本片段及其在源文本中的位置 [Start, End)。
type Chunk struct {
	Sequence int    `json:"sequence"`
	Text     string `json:"text"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Chunker 按固定参数切分文本，可被多个 goroutine 共享。
type Chunker struct {
	targetSize int
	overlap    int
}

// New 创建 Chunker，要求 targetSize > 0 且 0 <= overlap < targetSize。
func New(targetSize, overlap int) (*Chunker, error) {
	if targetSize <= 0 {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("target size must be positive, got %d", targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("overlap must be in [0, %d), got %d", targetSize, overlap)
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}, nil
}

// TargetSize 返回片段目标长度。
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap 返回重叠长度。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 切分文本。空文本或仅包含空白时返回 ErrEmptyDocument。
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apierrors.ErrEmptyDocument
	}

	runes := []rune(text)
	n := len(runes)
	minLen := c.targetSize / 2
	if minLen < c.overlap+1 {
		minLen = c.overlap + 1
	}

	var chunks []Chunk
	for start := 0; ; {
		end := n
		if n-start > c.targetSize {
			end = findBoundary(runes, start+minLen, start+c.targetSize)
		}
		chunks = append(chunks, Chunk{
			Sequence: len(chunks),
			Text:     string(runes[start:end]),
			Start:    start,
			End:      end,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// Split 使用给定参数切分文本。
func Split(text string, targetSize, overlap int) ([]Chunk, error) {
	c, err := New(targetSize, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text)
}

type boundaryFunc func(runes []rune, p int) bool

// 按优先级排列
var boundaries = []boundaryFunc{
	isParagraphBreak,
	isLineBreak,
	isSentenceEnd,
	isWordBreak,
}

// findBoundary 在 [lo, hi] 内寻找最靠后的自然边界，位置 p 表示片段结束于 runes[p-1]。
func findBoundary(runes []rune, lo, hi int) int {
	for _, ok := range boundaries {
		for p := hi; p >= lo; p-- {
			if ok(runes, p) {
				return p
			}
		}
	}
	return hi
}

func isParagraphBreak(runes []rune, p int) bool {
	return p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n'
}

func isLineBreak(runes []rune, p int) bool {
	return p >= 1 && runes[p-1] == '\n'
}

func isSentenceEnd(runes []rune, p int) bool {
	if p < 1 {
		return false
	}
	switch runes[p-1] {
	case '。', '！', '？':
		return true
	}
	if p < 2 || !unicode.IsSpace(runes[p-1]) {
		return false
	}
	switch runes[p-2] {
	case '.', '!', '?':
		return true
	}
	return false
}

func isWordBreak(runes []rune, p int) bool {
	return p >= 1 && unicode.IsSpace(runes[p-1])
}
