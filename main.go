package main

import (
	"runtime/debug"

	"github.com/marcus/ct/cmd"
)

// Version is injected with -ldflags "-X main.Version=v1.2.3".
var Version = "dev"

// buildVersion falls back to module or VCS info from the binary when no
// version was injected.
func buildVersion(v string) string {
	if v != "" && v != "dev" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if mv := info.Main.Version; mv != "" && mv != "(devel)" {
		return mv
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return v
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	out := "devel+" + rev
	if settings["vcs.modified"] == "true" {
		out += "+dirty"
	}
	return out
}

func main() {
	cmd.SetVersion(buildVersion(Version))
	cmd.Execute()
}
