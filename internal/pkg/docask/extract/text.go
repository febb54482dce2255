package extract

import (
	"bytes"
	"context"
	"unicode/utf8"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", apierrors.ErrExtractionFailed.WithMessage("could not decode file as UTF-8 text")
	}
	return string(data), nil
}
