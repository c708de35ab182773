package dispatcher

import (
	"fmt"
	"time"
)

// Schedule is one operator-configured wall-clock window during which
// the grab workers may run. A window whose stop precedes its start
// wraps past midnight. Start equal to stop is degenerate and never
// active.
type Schedule struct {
	StartHour   int
	StartMinute int
	StopHour    int
	StopMinute  int
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.StartHour, s.StartMinute, s.StopHour, s.StopMinute)
}

// Valid reports whether the window denotes a non-empty interval with
// in-range fields.
func (s Schedule) Valid() bool {
	if s.StartHour < 0 || s.StartHour > 23 || s.StopHour < 0 || s.StopHour > 23 {
		return false
	}
	if s.StartMinute < 0 || s.StartMinute > 59 || s.StopMinute < 0 || s.StopMinute > 59 {
		return false
	}
	return s.startSec() != s.stopSec()
}

// Active reports whether now falls in [start, stop), treating
// stop < start as wrapping past midnight. Degenerate windows are never
// active.
func (s Schedule) Active(now time.Time) bool {
	start, stop := s.startSec(), s.stopSec()
	if start == stop {
		return false
	}
	nowSec := now.Hour()*3600 + now.Minute()*60
	if start < stop {
		return nowSec >= start && nowSec < stop
	}
	return nowSec < stop || nowSec >= start
}

func (s Schedule) startSec() int { return s.StartHour*3600 + s.StartMinute*60 }
func (s Schedule) stopSec() int  { return s.StopHour*3600 + s.StopMinute*60 }

func anyActive(schedules []Schedule, now time.Time) bool {
	for _, s := range schedules {
		if s.Active(now) {
			return true
		}
	}
	return false
}
