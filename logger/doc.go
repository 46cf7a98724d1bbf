// Package logger wraps zerolog with the conventions used across autoflow:
// a service tag, component-scoped child loggers and map-based fields.
//
//	log := logger.New(&cfg, "autoflow").WithComponent("scheduler")
//	log.Info("schedule installed", logger.Fields(logger.FieldTaskID, id))
package logger
