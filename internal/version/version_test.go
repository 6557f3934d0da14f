package version

import (
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	if info["app"] != AppName {
		t.Errorf("app = %q, want %q", info["app"], AppName)
	}
	if info["version"] != GetVersion() {
		t.Errorf("version = %q, want %q", info["version"], GetVersion())
	}
	if info["timestamp"] == "" {
		t.Error("timestamp should be set")
	}
}

func TestGetBuildInfo(t *testing.T) {
	orig := BuildTime
	defer func() { BuildTime = orig }()

	BuildTime = "development"
	if got := GetBuildInfo(); !strings.HasSuffix(got, "-dev") {
		t.Errorf("GetBuildInfo() = %q, want -dev suffix", got)
	}

	BuildTime = "2026-01-01"
	if got := GetBuildInfo(); !strings.Contains(got, "built 2026-01-01") {
		t.Errorf("GetBuildInfo() = %q, want build time", got)
	}
}
