package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Build identification, injected at link time:
//
//	-ldflags "-X .../common.Version=1.2.3 -X .../common.Build=... -X .../common.GitCommit=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the release version
func GetVersion() string { return Version }

// GetBuild returns the build timestamp
func GetBuild() string { return Build }

// GetGitCommit returns the commit the binary was built from
func GetGitCommit() string { return GitCommit }

// Runtime returns the Go toolchain version the binary was compiled with
func Runtime() string { return runtime.Version() }

// GetFullVersion returns the single-line identification used in crash
// reports and startup logs.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s, %s)", Version, Build, GitCommit, Runtime())
}

// LoadVersionFromFile overrides Version from the .version file next to
// the executable, when one exists. Deployments drop this file so the
// binary reports its packaged version without a rebuild.
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return Version
	}

	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
