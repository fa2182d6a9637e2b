package formatted

import (
	"html"
	"unicode/utf8"
)

// IRC control characters.
const (
	CodeBold          = '\x02'
	CodeColor         = '\x03'
	CodeHexColor      = '\x04'
	CodeReset         = '\x0f'
	CodeMonospace     = '\x11'
	CodeReverse       = '\x16'
	CodeItalics       = '\x1d'
	CodeStrikethrough = '\x1e'
	CodeUnderline     = '\x1f'
)

var toggles = map[rune]Kind{
	CodeBold:          Bold,
	CodeItalics:       Italics,
	CodeUnderline:     Underline,
	CodeStrikethrough: Strikethrough,
	CodeMonospace:     Monospace,
}

// FromIRC converts a raw IRC message into markup. Toggle codes open a span or
// cancel the open one while keeping unrelated spans running, the reset code
// closes everything, and color and reverse codes are consumed without output.
// Text is HTML-escaped.
func FromIRC(text string) string {
	b := NewBuilder()
	plain := make([]byte, 0, len(text))
	flush := func() {
		if len(plain) > 0 {
			b.Append(html.EscapeString(string(plain)))
			plain = plain[:0]
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size

		if kind, ok := toggles[r]; ok {
			flush()
			if b.IsActive(kind) {
				b.Cancel(kind, true)
			} else {
				b.Apply(kind)
			}
			continue
		}

		switch r {
		case CodeReset:
			flush()
			b.CancelAll()
		case CodeColor:
			flush()
			i = skipColor(text, i)
		case CodeHexColor:
			flush()
			i = skipHexColor(text, i)
		case CodeReverse:
		default:
			plain = utf8.AppendRune(plain, r)
		}
	}
	flush()
	return b.Done()
}

// skipColor skips the optional "fg[,bg]" digits following \x03.
func skipColor(text string, i int) int {
	i = skipDigits(text, i, 2)
	if i+1 < len(text) && text[i] == ',' && isDigit(text[i+1]) {
		i = skipDigits(text, i+1, 2)
	}
	return i
}

// skipHexColor skips the optional "RRGGBB[,RRGGBB]" following \x04.
func skipHexColor(text string, i int) int {
	if !isHex6(text, i) {
		return i
	}
	i += 6
	if i < len(text) && text[i] == ',' && isHex6(text, i+1) {
		i += 7
	}
	return i
}

func skipDigits(text string, i, max int) int {
	for n := 0; n < max && i < len(text) && isDigit(text[i]); n++ {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHex6(text string, i int) bool {
	if i+6 > len(text) {
		return false
	}
	for _, c := range []byte(text[i : i+6]) {
		if !isDigit(c) && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
