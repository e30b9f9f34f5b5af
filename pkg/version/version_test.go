package version

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" || info.GitCommit == "" || info.BuildDate == "" {
		t.Fatalf("build info has empty fields: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("unexpected platform %q", info.Platform)
	}
	if !info.BuildTime.IsZero() {
		t.Error("BuildTime should stay zero for a non RFC3339 build date")
	}
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "2026-01-13T20:00:00Z"
	info := GetBuildInfo()

	expected, _ := time.Parse(time.RFC3339, BuildDate)
	if !info.BuildTime.Equal(expected) {
		t.Errorf("BuildTime = %v, want %v", info.BuildTime, expected)
	}
}

func TestUserAgent(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()

	Version = "1.2.3"
	ua := UserAgent()
	if !strings.HasPrefix(ua, "devicectl/1.2.3 (") {
		t.Errorf("unexpected user agent %q", ua)
	}
	if !strings.Contains(GetBuildInfo().String(), "devicectl 1.2.3") {
		t.Errorf("unexpected build info string %q", GetBuildInfo().String())
	}
}
