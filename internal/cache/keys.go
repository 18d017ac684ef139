package cache

import (
	"strings"
)

// Key builders. Identities are lower-cased so "Foo#EUW" and "foo#euw" share
// an entry.

func AccountKey(name, tag string) string {
	return join("account", name, tag)
}

func StandingKey(region, name, tag string) string {
	return join("profile", region, name, tag)
}

func MatchesKey(region, name, tag, mode string) string {
	return join("matches", region, name, tag, mode)
}

func MatchKey(region, id string) string {
	return join("match", region, id)
}

func StandingHistoryKey(region, name, tag string) string {
	return join("mmrHistory", region, name, tag)
}

func join(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.ToLower(strings.TrimSpace(p)))
	}
	return b.String()
}
