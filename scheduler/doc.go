// Package scheduler owns the cron timers of stored schedules and executes
// their runs.
//
// Manager keeps one robfig/cron instance and a map of schedule id to cron
// entry. Installing a schedule replaces any previous entry, so a schedule
// never has two timers. A timer fire and a manual RunNow share one path,
// guarded by a per-schedule run lock: while a run is in flight a second
// trigger is refused. Runs execute on a context detached from their
// trigger, so stopping a schedule never cancels a run already started.
//
// Runner executes one run: it opens a run log, dispatches on the task type,
// finalizes the log and records the outcome on the stored schedule.
package scheduler
