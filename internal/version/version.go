// Package version exposes build metadata for the cuw binary.
package version

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Set via ldflags at release build time; resolved from git for dev builds.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

var resolve sync.Once

func resolved() {
	resolve.Do(func() {
		if Version == "" {
			Version = gitOutput("describe", "--tags", "--abbrev=0")
			Version = strings.TrimPrefix(Version, "v")
			if Version == "" {
				Version = "dev"
			}
		}
		if Commit == "" {
			if Commit = gitOutput("describe", "--always", "--dirty"); Commit == "" {
				Commit = "unknown"
			}
		}
		if Date == "" {
			Date = time.Now().Format("2006-01-02")
		}
	})
}

func gitOutput(args ...string) string {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Info returns the full version line for the binary.
func Info() string {
	resolved()
	return fmt.Sprintf("claude-usage-watch %s (commit: %s, built: %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version string.
func Short() string {
	resolved()
	return Version
}
