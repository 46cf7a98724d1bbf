// Package task defines scheduled tasks, their run logs and the store
// contracts the scheduler persists them through.
package task
