// Package version exposes build metadata of the devicectl binary.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at build time via -ldflags "-X github.com/telekom/devicectl/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string    `json:"buildDate" yaml:"buildDate"`
	GoVersion string    `json:"goVersion" yaml:"goVersion"`
	Platform  string    `json:"platform" yaml:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}
	return info
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("devicectl %s (commit: %s, built: %s, %s)", b.Version, b.GitCommit, b.BuildDate, b.Platform)
}

// UserAgent is sent with every request to the authorization server.
func UserAgent() string {
	return fmt.Sprintf("devicectl/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
