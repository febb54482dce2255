// Package llm 定义向量化与生成两类模型供应商的接口，
// 以及按名称创建供应商的注册表。两者可以来自不同的供应商。
package llm

import (
	"context"
	"time"
)

// EmbeddingProvider 向量化供应商。
//
// Embed 按输入顺序每个文本返回一个向量，输入为空时返回空结果。
// 实现本身不重试，瞬时失败返回 ErrEmbeddingUnavailable。
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimension 返回向量维度，0 表示未声明、由模型决定。
	Dimension() int
	Name() string
}

// ChatProvider 生成供应商。失败返回 ErrGenerationUnavailable。
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	// Generate 单轮生成，systemPrompt 可为空。
	Generate(ctx context.Context, prompt string, systemPrompt string) (string, error)
	Name() string
}

// Role 消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation 由可选的系统提示与一条用户消息组成的单轮对话。
func Conversation(systemPrompt, prompt string) []Message {
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}

// Settings 创建供应商所需的连接参数。
type Settings struct {
	BaseURL      string
	APIKey       string
	Model        string
	Organization string
	// Dimensions 只对向量化供应商有意义，0 表示使用模型默认值。
	Dimensions int
	// Timeout 单次 HTTP 请求超时。
	Timeout time.Duration
}
