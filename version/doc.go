// Package version reports the build of the running autoflow binary.
//
// Version and Commit are set with -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/autoflow/version.Version=1.4.0" ./cmd/autoflow
//
// Anything left unset is filled from the module build info when available.
package version
