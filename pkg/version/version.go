package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of ropfind.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// RopfindVersion is the current version of ropfind.
var RopfindVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

func (v Version) String() string {
	fixBuild(&v)
	return fmt.Sprintf("Version: %s\nBuild: %s", v.Short(), v.Build)
}

// Short returns the version number only.
func (v Version) Short() string {
	ver := fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return ver
}

// BuildInfo returns the Go version and the modules ropfind was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s %s/%s\n%s", runtime.Version(), runtime.GOOS, runtime.GOARCH, moduleBuildInfo())
}

// fixBuild replaces an unexpanded ident keyword with the VCS revision
// recorded by the go command, suffixed with "-dirty" for modified trees.
func fixBuild(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id") {
		return
	}
	info, ok := readBuildInfo()
	if !ok {
		return
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if revision == "" {
		return
	}
	if modified == "true" {
		revision += "-dirty"
	}
	v.Build = revision
}
