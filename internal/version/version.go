// Package version provides build-time version information for hlssplit.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/hlssplit/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/hlssplit/internal/version.Commit=$(git rev-parse HEAD)"
//
// Without ldflags the commit, date and tree state fall back to the VCS
// stamp the Go toolchain embeds in the binary.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version. Snapshots look like
	// "1.2.3-SNAPSHOT.abc1234".
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the build was made from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty".
	TreeState = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "hlssplit"

var stampOnce sync.Once

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha"`
	Date      string `json:"date"`
	Branch    string `json:"branch"`
	TreeState string `json:"tree_state"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// applyBuildInfo fills unset variables from the embedded VCS stamp.
func applyBuildInfo(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		case "vcs.modified":
			if TreeState == "unknown" {
				if s.Value == "true" {
					TreeState = "dirty"
				} else {
					TreeState = "clean"
				}
			}
		}
	}
}

func stamp() {
	stampOnce.Do(func() {
		if bi, ok := debug.ReadBuildInfo(); ok {
			applyBuildInfo(bi.Settings)
		}
	})
}

// shortCommit returns the first eight characters of the commit, with a "*"
// appended for dirty trees, or "" when the commit is unknown.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	sha := Commit[:8]
	if TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	stamp()
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: strings.TrimSuffix(shortCommit(), "*"),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	sha := shortCommit()
	if sha == "" {
		return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
	}
	details := []string{"commit: " + sha}
	if info.Branch != "unknown" && info.Branch != "" {
		details = append(details, "branch: "+info.Branch)
	}
	details = append(details, "built: "+info.Date, info.GoVersion, info.Platform)
	return fmt.Sprintf("%s version %s (%s)", ApplicationName, info.Version, strings.Join(details, ", "))
}

// Short returns the version for cobra's --version output, which prefixes
// the command name itself.
func Short() string {
	stamp()
	if sha := shortCommit(); sha != "" {
		return fmt.Sprintf("%s (%s)", Version, sha)
	}
	return Version
}

// JSON returns the version information as a JSON document.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease returns true if this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot()
}
