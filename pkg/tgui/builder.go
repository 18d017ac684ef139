package tgui

import "strings"

// Builder accumulates message lines.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line appends pre-escaped HTML.
func (b *Builder) Line(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Text appends escaped plain text.
func (b *Builder) Text(s string) *Builder { return b.Line(Esc(s)) }

// KV appends "<b>key:</b> value".
func (b *Builder) KV(key string, value H) *Builder {
	return b.Line(B(key+":") + " " + value)
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

func (b *Builder) String() string {
	return strings.TrimRight(strings.Join(b.lines, "\n"), "\n")
}
