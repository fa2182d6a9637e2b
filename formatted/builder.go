// Package formatted turns IRC inline formatting into well-nested markup.
//
// IRC control codes toggle bold, italics and friends independently of each
// other, so spans overlap freely on the wire. Builder keeps a stack of open
// spans and always emits properly nested tags:
//
//	b := formatted.NewBuilder()
//	b.Apply(formatted.Bold)
//	b.Append("Hello ")
//	b.Apply(formatted.Italics)
//	b.Append("world")
//	b.Cancel(formatted.Bold, true)
//	b.Append("!!!")
//	b.Done() // <b>Hello <i>world</i></b><i>!!!</i>
package formatted

import "strings"

// Kind identifies a formatting span.
type Kind int

// Supported span kinds.
const (
	Bold Kind = iota + 1
	Italics
	Underline
	Strikethrough
	Monospace
)

var tags = map[Kind]string{
	Bold:          "b",
	Italics:       "i",
	Underline:     "u",
	Strikethrough: "s",
	Monospace:     "tt",
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := tags[k]
	return ok
}

// Open returns the opening markup of the span.
func (k Kind) Open() string {
	return "<" + tags[k] + ">"
}

// Close returns the closing markup of the span.
func (k Kind) Close() string {
	return "</" + tags[k] + ">"
}

func (k Kind) String() string {
	if t, ok := tags[k]; ok {
		return t
	}
	return "unknown"
}

// Builder accumulates text and formatting spans. It is meant for a single
// writer and is not safe for concurrent use.
type Builder struct {
	buf   strings.Builder
	stack []Kind
	done  bool
	final string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append adds already escaped text to the output. It does nothing after Done.
func (b *Builder) Append(text string) {
	if b.done {
		return
	}
	b.buf.WriteString(text)
}

// AppendRune adds a single character to the output.
func (b *Builder) AppendRune(r rune) {
	if b.done {
		return
	}
	b.buf.WriteRune(r)
}

// Apply opens a new span of kind k. Unknown kinds are ignored.
func (b *Builder) Apply(k Kind) {
	if b.done || !k.Valid() {
		return
	}
	b.buf.WriteString(k.Open())
	b.stack = append(b.stack, k)
}

// IsActive reports whether a span of kind k is open anywhere on the stack.
func (b *Builder) IsActive(k Kind) bool {
	for _, open := range b.stack {
		if open == k {
			return true
		}
	}
	return false
}

// Cancel closes the innermost open span of kind k. Spans opened after it are
// closed first, innermost first. With reopen they are opened again in their
// original order right after the canceled span closes; without it they are
// dropped. Canceling a kind that is not open does nothing.
func (b *Builder) Cancel(k Kind, reopen bool) {
	if b.done {
		return
	}
	idx := -1
	for i := len(b.stack) - 1; i >= 0; i-- {
		if b.stack[i] == k {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	inner := append([]Kind(nil), b.stack[idx+1:]...)
	for i := len(b.stack) - 1; i >= idx; i-- {
		b.buf.WriteString(b.stack[i].Close())
	}
	b.stack = b.stack[:idx]

	if !reopen {
		return
	}
	for _, s := range inner {
		b.buf.WriteString(s.Open())
		b.stack = append(b.stack, s)
	}
}

// CancelAll closes every open span without finalizing the builder.
func (b *Builder) CancelAll() {
	if b.done {
		return
	}
	b.buf.WriteString(closing(b.stack))
	b.stack = b.stack[:0]
}

// String returns the output so far with provisional closing markup for all
// open spans. It does not change the builder.
func (b *Builder) String() string {
	if b.done {
		return b.final
	}
	return b.buf.String() + closing(b.stack)
}

// Done closes all open spans and finalizes the output. Later calls return the
// same string and later writes are ignored.
func (b *Builder) Done() string {
	if b.done {
		return b.final
	}
	b.final = b.buf.String() + closing(b.stack)
	b.stack = nil
	b.done = true
	return b.final
}

func closing(stack []Kind) string {
	var sb strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteString(stack[i].Close())
	}
	return sb.String()
}
