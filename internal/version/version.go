package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current version of the application
	Version = "v0.1.0-dev"
	// GitCommit is the git commit that was compiled
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
	// GoVersion is the version of Go that was used to compile
	GoVersion = runtime.Version()
)

// Info represents the build information served on /version
type Info struct {
	Component string `json:"component,omitempty"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

// For returns the version information of one binary
func For(component string) Info {
	info := Get()
	info.Component = component
	return info
}

// String returns a formatted version string
func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s, BuildDate: %s, GoVersion: %s",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}

// UserAgent is sent to the API server so requests can be traced to the binary
func (i Info) UserAgent() string {
	name := "kube-quick-monitoring"
	if i.Component != "" {
		name += "-" + i.Component
	}
	return fmt.Sprintf("%s/%s (%s/%s)", name, i.Version, runtime.GOOS, runtime.GOARCH)
}
