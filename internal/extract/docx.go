package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxDocumentXML = 64 << 20

// extractDOCX reads word/document.xml and keeps paragraph and line breaks.
func extractDOCX(data []byte) (TextExtractionResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return TextExtractionResult{}, errors.New("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return TextExtractionResult{}, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	text, err := wordprocessingText(io.LimitReader(rc, maxDocumentXML))
	if err != nil {
		return TextExtractionResult{}, err
	}
	return TextExtractionResult{Text: text, Pages: 1, Method: "docx-xml"}, nil
}

func wordprocessingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	runDepth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				runDepth++
			case "t", "delText":
				inText = t.Name.Local == "t"
			case "tab":
				// w:pPr/w:tabs also holds w:tab stop definitions
				if runDepth > 0 {
					b.WriteByte('\t')
				}
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				if runDepth > 0 {
					runDepth--
				}
			case "t", "delText":
				inText = false
			case "p":
				b.WriteByte('\n')
			case "tc":
				b.WriteByte('\t')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
