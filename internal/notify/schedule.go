package notify

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is used when the poll schedule is empty or invalid.
const DefaultPollInterval = 10 * time.Second

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule yields the wait before the next poll iteration.
type Schedule interface {
	Next(after time.Time) time.Time
}

type intervalSchedule time.Duration

func (s intervalSchedule) Next(after time.Time) time.Time {
	return after.Add(time.Duration(s))
}

type cronSchedule struct{ sched cron.Schedule }

func (s cronSchedule) Next(after time.Time) time.Time { return s.sched.Next(after) }

// ParseSchedule interprets a poll schedule spec. Accepted forms:
//
//	"10s"              Go duration
//	"interval:1m30s"   explicit interval prefix
//	"*/5 * * * *"      cron spec (seconds field optional, @every works too)
//
// An empty or unparseable spec yields (default schedule, false).
func ParseSchedule(spec string) (Schedule, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return intervalSchedule(DefaultPollInterval), false
	}
	if rest, ok := strings.CutPrefix(spec, "interval:"); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && d > 0 {
			return intervalSchedule(d), true
		}
		return intervalSchedule(DefaultPollInterval), false
	}
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return intervalSchedule(d), true
	}
	if sched, err := cronParser.Parse(spec); err == nil {
		return cronSchedule{sched: sched}, true
	}
	return intervalSchedule(DefaultPollInterval), false
}
