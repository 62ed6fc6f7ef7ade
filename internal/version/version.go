package version

import (
	"runtime/debug"
	"strings"
)

// Default is the version reported when none was found.
const Default = "dev"

const modulePath = "github.com/shadercore/shadercore"

// version is set with -ldflags "-X github.com/shadercore/shadercore/internal/version.version=..."
// when building the CLI for a release.
var version string

// GetShadercoreVersion returns the version of shadercore in the go.mod of the binary, or the one
// set by ldflag for the CLI.
func GetShadercoreVersion() (ret string) {
	if len(version) != 0 {
		return version
	}

	info, ok := debug.ReadBuildInfo()
	if ok {
		for _, dep := range info.Deps {
			// Note: here's the assumption that modules containing the module path are only
			// shadercore itself.
			if strings.Contains(dep.Path, modulePath) {
				ret = dep.Version
			}
		}

		// In the CLI, shadercore is the main module, so the version is in info.Main.
		if versionMissing(ret) {
			ret = info.Main.Version
		}
	}
	if versionMissing(ret) {
		return Default
	}
	return
}

func versionMissing(ret string) bool {
	return ret == "" || ret == "(devel)"
}
