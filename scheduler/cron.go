package scheduler

import (
	"github.com/robfig/cron/v3"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/logger"
)

// parser accepts standard five-field expressions, an optional leading
// seconds field, descriptors such as @daily and @every 5m, and a CRON_TZ=
// prefix.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron returns an INVALID_CRON error when expr cannot be scheduled.
func ValidateCron(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return afErrors.InvalidCron(expr, err)
	}
	return nil
}

// cronLogger routes robfig/cron's own messages through the service logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, logger.Fields(keysAndValues...))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := logger.Fields(keysAndValues...)
	fields[logger.FieldError] = err.Error()
	l.log.Error(msg, fields)
}
