// Package hashembed 提供无需外部服务的本地 Embedding 供应商。
//
// 向量由特征哈希（feature hashing）生成：文本切分为小写词元及相邻词元对，
// 每个特征经 HighwayHash 映射到一个维度并带符号累加，最后做 L2 归一化。
// 相同文本总是得到相同向量，词汇重叠越多余弦相似度越高。
// 它适合离线部署与测试，语义效果不及神经网络模型。
package hashembed

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/minio/highwayhash"

	apierrors "github.com/kart-io/docask/pkg/errors"
	"github.com/kart-io/docask/pkg/llm"
)

// ProviderName 供应商名称。
const ProviderName = "hash"

// DefaultDimension 默认向量维度。
const DefaultDimension = 384

var hashKey = []byte("docask-feature-hashing-embedder!")

func init() {
	llm.Register(ProviderName, llm.Factory{
		Embedding: func(s llm.Settings) (llm.EmbeddingProvider, error) {
			if s.Dimensions == 0 {
				return New(DefaultDimension)
			}
			return New(s.Dimensions)
		},
	})
}

// Provider 特征哈希 Embedding 供应商。
type Provider struct {
	dim int
}

// New 创建指定维度的供应商。
func New(dim int) (*Provider, error) {
	if dim <= 0 {
		return nil, apierrors.ErrConfigInvalid.WithMessagef("hash embedder: dimension must be positive, got %d", dim)
	}
	return &Provider{dim: dim}, nil
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

// Dimension 返回向量维度。
func (p *Provider) Dimension() int { return p.dim }

// Embed 为多个文本生成向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

// EmbedSingle 为单个文本生成向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apierrors.ErrEmbeddingUnavailable.WithCause(err)
	}
	return p.vector(text), nil
}

func (p *Provider) vector(text string) []float32 {
	acc := make([]float64, p.dim)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		p.add(acc, tok, 1)
		if i > 0 {
			p.add(acc, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, p.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (p *Provider) add(acc []float64, feature string, weight float64) {
	h := highwayhash.Sum64([]byte(feature), hashKey)
	idx := int(h % uint64(p.dim))
	if h>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// Tokenize 将文本切分为小写词元。字母数字连续段为一个词元，
// 汉字等表意文字每个字单独成词元。
func Tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}
