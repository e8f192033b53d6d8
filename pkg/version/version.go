package version

import (
	"fmt"
	"runtime/debug"
)

// Version describes the build as "<commit> <commit time>", with a
// "-dirty" suffix for modified trees. Empty fields mean a build without
// VCS information.
var Version = func() string {
	var commit, ts string
	dirty := false
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				ts = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}
	if commit == "" {
		return "devel"
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s", commit, ts)
}()
