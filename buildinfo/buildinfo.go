package buildinfo

import (
	"runtime/debug"
)

const modulePath = "github.com/coder/mcpbridge"

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
		return
	}

	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			version = dep.Version
		}
	}
}

// Version returns the module version this binary was built from, or "unknown".
func Version() string {
	if version == "" {
		return "unknown"
	}
	return version
}
