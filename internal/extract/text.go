package extract

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// extractPlain decodes UTF-8, BOM-marked UTF-16, or falls back to Windows-1252.
func extractPlain(data []byte) (TextExtractionResult, error) {
	text, warnings, err := decodeText(data)
	if err != nil {
		return TextExtractionResult{}, err
	}
	return TextExtractionResult{Text: text, Pages: 1, Method: "plain", Warnings: warnings}, nil
}

func decodeText(data []byte) (string, []string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), nil, nil
	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		return string(out), nil, err
	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		return string(out), nil, err
	}
	if utf8.Valid(data) {
		return string(data), nil, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(out), []string{"not valid UTF-8; decoded as Windows-1252"}, nil
}

// looksBinary samples the head of data for NULs and control bytes.
func looksBinary(data []byte) bool {
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		return false
	}
	sample := data
	if len(sample) > 8<<10 {
		sample = sample[:8<<10]
	}
	control := 0
	for _, c := range sample {
		if c == 0 {
			return true
		}
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' {
			control++
		}
	}
	return control*10 > len(sample)
}
