package schedule

import "errors"

// ErrInvalidCron wraps any cron expression the underlying parser rejects.
var ErrInvalidCron = errors.New("schedule: invalid cron expression")
