package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitTextShort(t *testing.T) {
	require.Equal(t, []string{"hi"}, splitText("hi", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextKeepsTagsWhole(t *testing.T) {
	s := "abcdefg<b>bold</b>"
	got := splitText(s, 9, "HTML")
	require.Equal(t, "abcdefg", got[0])
	require.True(t, strings.HasPrefix(got[1], "<b>"))
	require.Equal(t, s, strings.Join(got, ""))
}

func TestSplitTextRespectsLimit(t *testing.T) {
	s := strings.Repeat("é", 25)
	for _, c := range splitText(s, 10, "") {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}
