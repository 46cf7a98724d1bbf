// Package sqlstore stores schedules and run logs in SQLite through gorm.
//
// Schedules live in the schedules table keyed by id, with the free-form
// task config serialized as JSON. Run logs live in task_logs with
// autoincrement ids, so ordering by id DESC lists the newest runs first.
// Tables are created by gorm auto-migration when the store opens.
package sqlstore
