// Package tgui builds Telegram HTML message text.
//
// Values of type H are already escaped; plain strings go through Esc or one
// of the tag helpers. Builder assembles titled, line-oriented messages.
package tgui
