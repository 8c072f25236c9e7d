package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// standardParser accepts the five-field format and descriptors such as
// "@hourly" or "@every 5m", the same set cron.ParseStandard accepts.
var standardParser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := standardParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// GetTriggerInfo returns the next trigger after refTime and, when one can be
// found within a year, the latest trigger at or before it.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	nextTime := schedule.Next(refTime)

	var prevTime time.Time
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		prevTime = nextTime.Add(-every.Delay)
	} else {
		searchStart := refTime.Add(-time.Minute)
		for i := range 366 * 24 {
			checkTime := searchStart.Add(-time.Duration(i) * time.Hour)
			candidateNext := schedule.Next(checkTime)

			if candidateNext.Before(refTime) ||
				candidateNext.Equal(refTime) {
				// Walk forward to the latest trigger not after refTime.
				for {
					following := schedule.Next(candidateNext)
					if following.After(refTime) {
						break
					}
					candidateNext = following
				}
				prevTime = candidateNext
				break
			}
		}
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}
