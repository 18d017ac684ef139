package config

import "reflect"

// ChangedSections lists the top-level sections that differ between two
// configs. Only "logging" is applied live; other sections are picked up on
// restart.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	type section struct {
		name     string
		old, new any
	}
	sections := []section{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"origin", oldCfg.Origin, newCfg.Origin},
		{"cache", oldCfg.Cache, newCfg.Cache},
		{"poller", oldCfg.Poller, newCfg.Poller},
		{"limits", oldCfg.Limits, newCfg.Limits},
		{"notifier", oldCfg.Notifier, newCfg.Notifier},
		{"commands", oldCfg.Commands, newCfg.Commands},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"status", oldCfg.Status, newCfg.Status},
	}
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			out = append(out, s.name)
		}
	}
	return out
}

// RequiresRestart reports whether a reload touched anything beyond logging.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}
