// Package version reports what was built. Release builds set the variables
// with -ldflags "-X"; everything else falls back to the module build info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	AppName    = "s3sync"
	devVersion = "0.1.0-dev"
	unknownRev = "HEAD"
	shortRev   = 12
)

var (
	Version   = devVersion
	Revision  = unknownRev
	BuildDate = ""
)

// Info is the build description printed by `s3sync version`.
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders `s3sync 0.1.0 (5e23a4b1c0de; go1.23.6; linux/amd64; 2025-05-01T10:00:00Z)`.
func (i Info) String() string {
	return fmt.Sprintf("%s %s", i.App, i.details())
}

func (i Info) details() string {
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.Go, i.Platform, i.BuildDate)
}

// Detailed is Info without the app name, used as cobra's --version text.
func Detailed() string {
	return Get().details()
}

// UserAgent is sent with every S3 request.
func UserAgent() string {
	return AppName + "/" + Version
}

// fillFromBuildInfo only touches values ldflags left at their defaults.
func fillFromBuildInfo(mainVersion string, settings []debug.BuildSetting) {
	if (Version == devVersion || Version == "") && mainVersion != "" && mainVersion != "(devel)" {
		Version = strings.TrimPrefix(mainVersion, "v")
	}

	var rev, modified, vcsTime string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if (Revision == unknownRev || Revision == "") && rev != "" {
		Revision = rev[:min(len(rev), shortRev)]
		if modified == "true" {
			Revision += "-dirty"
		}
	}
	if BuildDate == "" {
		BuildDate = vcsTime
	}
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(info.Main.Version, info.Settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
