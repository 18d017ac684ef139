package commands

import (
	"errors"
	"strings"
)

// Regions accepted by /link.
var Regions = []string{"na", "eu", "kr", "ap", "br", "latam"}

func isRegion(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range Regions {
		if r == s {
			return true
		}
	}
	return false
}

// tokenize splits a command line on whitespace, honouring quotes and
// backslash escapes.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

var errBadIdentity = errors.New("expected name#tag")

// parseLinkArgs reads "name#tag [region]". Names may contain spaces; a
// trailing known region is split off.
func parseLinkArgs(args []string) (name, tag, region string, err error) {
	if len(args) > 1 && isRegion(args[len(args)-1]) {
		region = strings.ToLower(args[len(args)-1])
		args = args[:len(args)-1]
	}
	raw := strings.TrimSpace(strings.Join(args, " "))
	i := strings.LastIndexByte(raw, '#')
	if i <= 0 || i == len(raw)-1 {
		return "", "", "", errBadIdentity
	}
	name = strings.TrimSpace(raw[:i])
	tag = strings.TrimSpace(raw[i+1:])
	if name == "" || tag == "" || strings.ContainsAny(tag, " #") {
		return "", "", "", errBadIdentity
	}
	return name, tag, region, nil
}
