// Package version holds the build-time version string for scc-gateway.
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"
