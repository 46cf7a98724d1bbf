// Package bootstrap runs the process lifecycle: validate the config, build
// the logger, start registered components in order, run hooks, block until
// a signal or context cancellation, then stop components in reverse within a
// graceful timeout.
package bootstrap
