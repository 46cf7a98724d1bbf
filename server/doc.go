// Package server provides the HTTP server of the process: a gin engine
// served over HTTP/1.1 and h2c, the standard middleware stack, the /health
// endpoint and the JSON error rendering shared by every handler.
package server
