package main

import (
	"fmt"
	"runtime/debug"

	"github.com/marcus/roofsync/cmd"
)

// Version is injected by release builds: -ldflags "-X main.Version=v1.2.3"
var Version = "dev"

// buildVersion prefers the injected version, then the module version from
// `go install`, then the VCS revision the binary was built from.
func buildVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return Version
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := fmt.Sprintf("devel+%s", rev)
	if settings["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}

func main() {
	cmd.SetVersion(buildVersion())
	cmd.Execute()
}
