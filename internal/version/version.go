// Package version carries build identification, stamped via -ldflags.
package version

var (
	// Version is the current service version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
