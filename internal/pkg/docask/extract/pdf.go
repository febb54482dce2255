package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

func extractPDF(_ context.Context, data []byte) (text string, err error) {
	// 解析器在损坏的输入上可能 panic
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = apierrors.ErrExtractionFailed.WithCause(fmt.Errorf("pdf: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apierrors.ErrExtractionFailed.WithCause(err)
	}

	var buf bytes.Buffer
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", apierrors.ErrExtractionFailed.WithCause(fmt.Errorf("pdf page %d: %w", i, err))
		}
		buf.WriteString(content)
		buf.WriteString("\n\n")
	}
	if buf.Len() > 0 {
		return buf.String(), nil
	}

	// 按页提取为空时退回整体提取
	reader, err := r.GetPlainText()
	if err != nil {
		return "", apierrors.ErrExtractionFailed.WithCause(err)
	}
	all, err := io.ReadAll(reader)
	if err != nil {
		return "", apierrors.ErrExtractionFailed.WithCause(err)
	}
	return string(all), nil
}
