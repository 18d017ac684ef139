package poller

import (
	"rankbot/pkg/tgui"
)

// Render formats a match post. displayName is optional.
func Render(s Summary, displayName string) string {
	who := s.Player
	if displayName != "" {
		who = displayName + " (" + s.Player + ")"
	}
	title := who + " — " + s.Result()
	if s.RatingChange != nil {
		title += " • " + tgui.Signed(*s.RatingChange) + " RR"
	}
	icon := "🟢"
	if !s.Won {
		icon = "🔴"
	}
	return tgui.New().
		Title("🎮", title).
		Line(tgui.JoinH(" • ", tgui.B(s.Map), tgui.Esc(s.Mode), tgui.Esc(s.Score()))).
		Line(tgui.JoinH(" • ",
			tgui.Esc(icon+" Agent: "+s.Agent),
			tgui.Esc("K/D/A: "+s.KDA()),
		)).
		String()
}
