// Package errors defines the structured error type shared by the orchestration
// packages. Every error that crosses a package boundary carries a machine code,
// a human message and the HTTP status the scheduling API renders it with.
package errors
