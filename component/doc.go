// Package component defines the lifecycle contract shared by long-lived
// parts of autoflow and a Registry that starts and stops them in order.
package component
