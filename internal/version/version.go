package version

import "time"

// Overridden at build time with -ldflags "-X github.com/ghabxph/starship/internal/version.GitHash=..."
var (
	Version   = "0.4.0"
	BuildTime = "development"
	GitHash   = ""
)

const AppName = "starship"

func GetVersionInfo() map[string]string {
	return map[string]string{
		"app":        AppName,
		"version":    Version,
		"build_time": BuildTime,
		"git_hash":   GitHash,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}

func GetVersion() string {
	return Version
}

func GetBuildInfo() string {
	if BuildTime == "development" {
		return Version + "-dev"
	}
	return Version + " (built " + BuildTime + ")"
}
