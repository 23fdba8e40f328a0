package extract

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// destinations whose content is never body text
var rtfSkipDestinations = map[string]struct{}{
	"fonttbl": {}, "colortbl": {}, "stylesheet": {}, "info": {}, "pict": {},
	"header": {}, "headerl": {}, "headerr": {}, "headerf": {},
	"footer": {}, "footerl": {}, "footerr": {}, "footerf": {},
	"listtable": {}, "listoverridetable": {}, "rsidtbl": {}, "generator": {},
	"xmlnstbl": {}, "themedata": {}, "colorschememapping": {}, "latentstyles": {},
	"datastore": {}, "object": {}, "fldinst": {}, "filetbl": {}, "revtbl": {},
}

func extractRTF(data []byte) (TextExtractionResult, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \r\n\t"), []byte(`{\rtf`)) {
		return TextExtractionResult{}, errors.New(`missing {\rtf header`)
	}
	return TextExtractionResult{Text: rtfToText(data), Pages: 1, Method: "rtf-strip"}, nil
}

type rtfGroup struct {
	skip bool
	uc   int // fallback characters after \uN
}

// rtfToText strips control words and groups, keeping body text.
func rtfToText(data []byte) string {
	var out strings.Builder
	stack := []rtfGroup{{uc: 1}}
	cur := func() *rtfGroup { return &stack[len(stack)-1] }
	pendingSkip := 0

	emit := func(s string) {
		if pendingSkip > 0 {
			pendingSkip--
			return
		}
		if !cur().skip {
			out.WriteString(s)
		}
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case '{':
			stack = append(stack, *cur())
			pendingSkip = 0
		case '}':
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			pendingSkip = 0
		case '\r', '\n':
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			n := data[i+1]
			switch {
			case n == '\\' || n == '{' || n == '}':
				emit(string(n))
				i++
			case n == '~':
				emit(" ")
				i++
			case n == '_':
				emit("-")
				i++
			case n == '-':
				i++
			case n == '*':
				cur().skip = true
				i++
			case n == '\r' || n == '\n':
				emit("\n")
				i++
			case n == '\'':
				if i+3 < len(data) {
					if v, err := strconv.ParseUint(string(data[i+2:i+4]), 16, 8); err == nil {
						r := charmap.Windows1252.DecodeByte(byte(v))
						emit(string(r))
					}
				}
				i += 3
			case isASCIILetter(n):
				j := i + 1
				for j < len(data) && isASCIILetter(data[j]) {
					j++
				}
				word := string(data[i+1 : j])
				k := j
				if k < len(data) && (data[k] == '-' || isDigit(data[k])) {
					k++
					for k < len(data) && isDigit(data[k]) {
						k++
					}
				}
				param, hasParam := 0, false
				if k > j {
					if v, err := strconv.Atoi(string(data[j:k])); err == nil {
						param, hasParam = v, true
					}
				}
				if k < len(data) && data[k] == ' ' {
					k++
				}
				i = k - 1
				pendingSkip = rtfControl(word, param, hasParam, cur(), emit, pendingSkip)
			default:
				i++
			}
		default:
			emit(string(c))
		}
	}
	return out.String()
}

// rtfControl applies one control word and returns the updated fallback skip count.
func rtfControl(word string, param int, hasParam bool, g *rtfGroup, emit func(string), pendingSkip int) int {
	if _, ok := rtfSkipDestinations[word]; ok {
		g.skip = true
		return pendingSkip
	}
	switch word {
	case "par", "line", "sect", "page":
		emit("\n")
	case "tab", "cell":
		emit("\t")
	case "row":
		emit("\n")
	case "emdash":
		emit("—")
	case "endash":
		emit("–")
	case "bullet":
		emit("•")
	case "lquote", "rquote":
		emit("'")
	case "ldblquote", "rdblquote":
		emit(`"`)
	case "uc":
		if hasParam && param >= 0 {
			g.uc = param
		}
	case "u":
		if hasParam {
			if param < 0 {
				param += 65536
			}
			emit(string(rune(param)))
			return g.uc
		}
	}
	return pendingSkip
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
