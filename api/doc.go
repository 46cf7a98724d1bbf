// Package api exposes schedule management and run history over HTTP.
//
// Routes, all under /api/v1:
//
//	GET    /schedules           list schedules
//	POST   /schedules           create a schedule
//	GET    /schedules/:id       get one schedule
//	PUT    /schedules/:id       replace a schedule
//	DELETE /schedules/:id       delete a schedule, keeping its logs
//	POST   /schedules/:id/run   start a run now (202)
//	GET    /logs                page run logs (task_id, status, limit, offset)
//	GET    /health              component health
//
// Schedule responses carry installed, so a caller can see that a schedule
// with an invalid cron expression was saved but has no timer.
package api
