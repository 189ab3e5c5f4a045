// Package version reports the build version stamped at link time.
package version

// version is overridden via -ldflags "-X bookstore/pkg/version.version=...".
var version = "dev"

// Version returns the current build version string.
func Version() string {
	return version
}
