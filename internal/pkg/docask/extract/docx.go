package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

const docxBody = "word/document.xml"

func extractDOCX(_ context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apierrors.ErrExtractionFailed.WithCause(err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", apierrors.ErrExtractionFailed.WithMessage("docx: missing " + docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return "", apierrors.ErrExtractionFailed.WithCause(err)
	}
	defer rc.Close()

	return readDocumentXML(rc)
}

// readDocumentXML 遍历 WordprocessingML，段落和表格行结束时换行。
func readDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apierrors.ErrExtractionFailed.WithCause(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t", "instrText":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t", "instrText":
				inText = false
			case "p":
				b.WriteString("\n\n")
			case "tc":
				b.WriteByte('\t')
			case "tr":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
