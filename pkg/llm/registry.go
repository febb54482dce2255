package llm

import (
	"maps"
	"slices"
	"sync"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// Factory 供应商构造函数，只提供一种能力的供应商留空另一项。
type Factory struct {
	Embedding func(Settings) (EmbeddingProvider, error)
	Chat      func(Settings) (ChatProvider, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 注册供应商。同名重复注册时非空的构造函数覆盖原有的。
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	cur := registry[name]
	if f.Embedding != nil {
		cur.Embedding = f.Embedding
	}
	if f.Chat != nil {
		cur.Chat = f.Chat
	}
	registry[name] = cur
}

func lookup(name string) Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// NewEmbeddingProvider 按名称创建向量化供应商。
func NewEmbeddingProvider(name string, s Settings) (EmbeddingProvider, error) {
	f := lookup(name).Embedding
	if f == nil {
		return nil, apierrors.ErrConfigInvalid.WithMessagef("unknown embedding provider: %q", name)
	}
	return f(s)
}

// NewChatProvider 按名称创建生成供应商。
func NewChatProvider(name string, s Settings) (ChatProvider, error) {
	f := lookup(name).Chat
	if f == nil {
		return nil, apierrors.ErrConfigInvalid.WithMessagef("unknown chat provider: %q", name)
	}
	return f(s)
}

// Providers 返回已注册的供应商名称，按字母排序。
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}
