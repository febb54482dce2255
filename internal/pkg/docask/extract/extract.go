// Package extract 将原始文档字节流转换为纯文本。
//
// 支持 PDF、DOCX、XLSX 以及 TXT/MD/CSV/JSON 等纯文本格式。格式优先由文件扩展名
// 决定，扩展名未知时根据内容嗅探。
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// Format 文档格式。
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatText Format = "text"
)

// Extractor 从某种格式的字节流中提取文本。
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc 函数适配器。
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

// Extract 实现 Extractor 接口。
func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Result 提取结果。
type Result struct {
	Format Format
	Text   string
}

// Registry 按格式管理提取器。
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]Format
	extractors map[Format]Extractor
}

// NewRegistry 创建包含默认提取器的注册表。
func NewRegistry() *Registry {
	r := &Registry{
		extensions: map[string]Format{
			".pdf":  FormatPDF,
			".docx": FormatDOCX,
			".xlsx": FormatXLSX,
			".txt":  FormatText,
			".md":   FormatText,
			".csv":  FormatText,
			".json": FormatText,
		},
		extractors: make(map[Format]Extractor),
	}
	r.Register(FormatPDF, ExtractorFunc(extractPDF))
	r.Register(FormatDOCX, ExtractorFunc(extractDOCX))
	r.Register(FormatXLSX, ExtractorFunc(extractXLSX))
	r.Register(FormatText, ExtractorFunc(extractText))
	return r
}

// Register 注册或替换某种格式的提取器。
func (r *Registry) Register(format Format, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[format] = e
}

// RegisterExtension 将文件扩展名映射到格式。
func (r *Registry) RegisterExtension(ext string, format Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[strings.ToLower(ext)] = format
}

// Supported 返回支持的扩展名列表。
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		exts = append(exts, ext)
	}
	return exts
}

// Detect 判断文档格式。
func (r *Registry) Detect(filename string, data []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	r.mu.RLock()
	format, ok := r.extensions[ext]
	r.mu.RUnlock()
	if ok {
		return format, nil
	}
	if ext != "" {
		return "", apierrors.ErrUnsupportedFormat.WithMessagef("unsupported file extension %q", ext)
	}

	// 无扩展名时按内容嗅探
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("application/pdf"):
		return FormatPDF, nil
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FormatDOCX, nil
	case mtype.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return FormatXLSX, nil
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return FormatText, nil
		}
	}
	return "", apierrors.ErrUnsupportedFormat.WithMessagef("unsupported content type %s", mtype.String())
}

// Extract 提取文档文本并做空白规范化。
// 提取出的文本可能为空，由分块阶段判定 EmptyDocument。
func (r *Registry) Extract(ctx context.Context, filename string, data []byte) (*Result, error) {
	format, err := r.Detect(filename, data)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.extractors[format]
	r.mu.RUnlock()
	if !ok {
		return nil, apierrors.ErrUnsupportedFormat.WithMessagef("no extractor registered for %s", format)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := e.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	return &Result{Format: format, Text: Normalize(text)}, nil
}
