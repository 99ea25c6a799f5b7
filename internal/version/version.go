// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the semantic version of the balancer binary.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
