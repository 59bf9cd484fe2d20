package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/dixxi1208/GryazBot/internal/platform/version.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("gryazbot %s (%s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
