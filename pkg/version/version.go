// Package version reports the lgsync build and protocol versions.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Version is the release version, set at build time with
//
//	-ldflags "-X github.com/labgrid-ui/lgsync/pkg/version.Version=v1.2.3"
var Version = ""

// Current returns the release version. Without a build-time value it
// falls back to the module version recorded by the go tool, then "dev".
func Current() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// String returns the one-line version banner of a program.
func String(program string) string {
	return fmt.Sprintf("%s %s (coordinator protocol %s, %s)", program, Current(), wire.ProtocolVersion, runtime.Version())
}
