package extract

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// pdfOperand is one operand read before a content-stream operator.
type pdfOperand struct {
	str   []byte
	isStr bool
	num   float64
	isNum bool
	arr   []pdfOperand
}

// textFromContentStream runs the text-showing operators (Tj, TJ, ' and ")
// of a decoded page content stream and returns the shown strings. Line
// breaks come from T*, ET and vertical moves.
func textFromContentStream(data []byte) string {
	var (
		out      textBuilder
		operands []pdfOperand
		lastY    float64
		haveY    bool
	)
	lx := &contentLexer{data: data}
	for {
		o, op, ok := lx.next()
		if !ok {
			break
		}
		if op == "" {
			operands = append(operands, o)
			continue
		}
		switch op {
		case "Tj":
			out.show(lastString(operands))
		case "'", `"`:
			out.sep('\n')
			out.show(lastString(operands))
		case "TJ":
			if n := len(operands); n > 0 {
				for _, el := range operands[n-1].arr {
					switch {
					case el.isStr:
						out.show(el.str)
					case el.isNum && el.num < -200:
						// wide negative kerning reads as a word gap
						out.sep(' ')
					}
				}
			}
		case "Td", "TD":
			if n := len(operands); n >= 2 && operands[n-1].isNum && operands[n-1].num != 0 {
				out.sep('\n')
			} else {
				out.sep(' ')
			}
		case "Tm":
			if n := len(operands); n >= 6 && operands[n-1].isNum {
				y := operands[n-1].num
				if haveY && y != lastY {
					out.sep('\n')
				} else {
					out.sep(' ')
				}
				lastY, haveY = y, true
			}
		case "T*", "ET":
			out.sep('\n')
		case "ID":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	return strings.TrimSpace(out.String())
}

func lastString(operands []pdfOperand) []byte {
	for i := len(operands) - 1; i >= 0; i-- {
		if operands[i].isStr {
			return operands[i].str
		}
	}
	return nil
}

type textBuilder struct {
	strings.Builder
}

func (b *textBuilder) show(s []byte) {
	if len(s) > 0 {
		b.WriteString(pdfTextString(s))
	}
}

// sep writes a separator unless the text is empty or already ends in one.
func (b *textBuilder) sep(c byte) {
	s := b.String()
	if s == "" {
		return
	}
	last := s[len(s)-1]
	if last == '\n' || (last == ' ' && c == ' ') {
		return
	}
	b.WriteByte(c)
}

// pdfTextString decodes a PDF string: UTF-16BE when it carries the BOM,
// UTF-8 when valid, PDFDocEncoding (close to Windows-1252) otherwise.
func pdfTextString(b []byte) string {
	if bytes.HasPrefix(b, []byte{0xFE, 0xFF}) {
		if out, err := xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	if out, err := charmap.Windows1252.NewDecoder().Bytes(b); err == nil {
		return string(out)
	}
	return string(b)
}

func mostlyPrintable(s string) bool {
	total, ok := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			ok++
		}
	}
	return total > 0 && ok*10 >= total*9
}

type contentLexer struct {
	data []byte
	pos  int
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

// next returns either an operand or, when op is non-empty, an operator.
func (lx *contentLexer) next() (o pdfOperand, op string, ok bool) {
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		switch {
		case isPDFSpace(c):
			lx.pos++
		case c == '%':
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
		case c == '(':
			return pdfOperand{str: lx.literal(), isStr: true}, "", true
		case c == '<':
			if lx.pos+1 < len(lx.data) && lx.data[lx.pos+1] == '<' {
				lx.skipDict()
				return pdfOperand{}, "", true
			}
			return pdfOperand{str: lx.hexString(), isStr: true}, "", true
		case c == '[':
			lx.pos++
			var arr []pdfOperand
			for {
				el, elOp, more := lx.next()
				if !more || elOp == "]" {
					break
				}
				if elOp == "" {
					arr = append(arr, el)
				}
			}
			return pdfOperand{arr: arr}, "", true
		case c == ']':
			lx.pos++
			return pdfOperand{}, "]", true
		case c == '/':
			lx.pos++
			lx.regular()
			return pdfOperand{}, "", true
		case c == '{' || c == '}' || c == ')' || c == '>':
			lx.pos++
		default:
			word := lx.regular()
			if n, err := strconv.ParseFloat(word, 64); err == nil {
				return pdfOperand{num: n, isNum: true}, "", true
			}
			return pdfOperand{}, word, true
		}
	}
	return pdfOperand{}, "", false
}

func (lx *contentLexer) regular() string {
	start := lx.pos
	for lx.pos < len(lx.data) && !isPDFSpace(lx.data[lx.pos]) && !isPDFDelim(lx.data[lx.pos]) {
		lx.pos++
	}
	return string(lx.data[start:lx.pos])
}

// literal reads a balanced (...) string starting at the open paren.
func (lx *contentLexer) literal() []byte {
	lx.pos++
	start, depth := lx.pos, 1
	for lx.pos < len(lx.data) {
		switch lx.data[lx.pos] {
		case '\\':
			lx.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				raw := lx.data[start:lx.pos]
				lx.pos++
				return decodePDFString(raw)
			}
		}
		lx.pos++
	}
	return decodePDFString(lx.data[start:])
}

// hexString reads <...>; whitespace is ignored and an odd digit count is padded with 0.
func (lx *contentLexer) hexString() []byte {
	lx.pos++
	var digits []byte
	for lx.pos < len(lx.data) && lx.data[lx.pos] != '>' {
		c := lx.data[lx.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		lx.pos++
	}
	lx.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	_, _ = hex.Decode(out, digits)
	return out
}

func (lx *contentLexer) skipDict() {
	depth := 0
	for lx.pos < len(lx.data) {
		switch {
		case bytes.HasPrefix(lx.data[lx.pos:], []byte("<<")):
			depth++
			lx.pos += 2
		case bytes.HasPrefix(lx.data[lx.pos:], []byte(">>")):
			depth--
			lx.pos += 2
			if depth == 0 {
				return
			}
		case lx.data[lx.pos] == '(':
			lx.literal()
		default:
			lx.pos++
		}
	}
}

// skipInlineImage jumps over the binary data between ID and EI.
func (lx *contentLexer) skipInlineImage() {
	lx.pos++
	for lx.pos+2 <= len(lx.data) {
		if lx.data[lx.pos] == 'E' && lx.data[lx.pos+1] == 'I' && isPDFSpace(lx.data[lx.pos-1]) &&
			(lx.pos+2 == len(lx.data) || isPDFSpace(lx.data[lx.pos+2])) {
			lx.pos += 2
			return
		}
		lx.pos++
	}
	lx.pos = len(lx.data)
}

// decodePDFString resolves the escapes of a literal string body.
func decodePDFString(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b', 'f':
		case '\r':
			// line continuation
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case '\n':
		default:
			if c >= '0' && c <= '7' {
				val := int(c - '0')
				for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				out = append(out, byte(val))
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}
