package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, time.Local)
}

func TestScheduleActive(t *testing.T) {
	for _, tc := range []struct {
		name string
		s    Schedule
		now  time.Time
		want bool
	}{
		{"inside plain window", Schedule{StartHour: 8, StopHour: 10}, at(9, 0), true},
		{"before plain window", Schedule{StartHour: 8, StopHour: 10}, at(7, 59), false},
		{"start is inclusive", Schedule{StartHour: 8, StopHour: 10}, at(8, 0), true},
		{"stop is exclusive", Schedule{StartHour: 8, StopHour: 10}, at(10, 0), false},
		{"minute granularity", Schedule{StartHour: 8, StartMinute: 30, StopHour: 8, StopMinute: 45}, at(8, 44), true},
		{"minute past stop", Schedule{StartHour: 8, StartMinute: 30, StopHour: 8, StopMinute: 45}, at(8, 45), false},
		{"wrap, late evening", Schedule{StartHour: 23, StopHour: 1}, at(23, 30), true},
		{"wrap, after midnight", Schedule{StartHour: 23, StopHour: 1}, at(0, 30), true},
		{"wrap, outside", Schedule{StartHour: 23, StopHour: 1}, at(12, 0), false},
		{"wrap, stop exclusive", Schedule{StartHour: 23, StopHour: 1}, at(1, 0), false},
		{"degenerate never active", Schedule{StartHour: 8, StopHour: 8}, at(8, 0), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.s.Active(tc.now))
		})
	}
}

func TestScheduleValid(t *testing.T) {
	assert.True(t, Schedule{StartHour: 8, StopHour: 10}.Valid())
	assert.True(t, Schedule{StartHour: 23, StopHour: 1}.Valid())
	assert.False(t, Schedule{StartHour: 24, StopHour: 1}.Valid())
	assert.False(t, Schedule{StartHour: -1, StopHour: 1}.Valid())
	assert.False(t, Schedule{StartHour: 8, StartMinute: 60, StopHour: 10}.Valid())
	assert.False(t, Schedule{StartHour: 8, StopHour: 8}.Valid())
}

func TestScheduleString(t *testing.T) {
	s := Schedule{StartHour: 6, StartMinute: 5, StopHour: 23, StopMinute: 30}
	assert.Equal(t, "06:05-23:30", s.String())
}

func TestAnyActive(t *testing.T) {
	windows := []Schedule{
		{StartHour: 6, StopHour: 7},
		{StartHour: 20, StopHour: 22},
	}
	assert.True(t, anyActive(windows, at(6, 30)))
	assert.True(t, anyActive(windows, at(21, 0)))
	assert.False(t, anyActive(windows, at(12, 0)))
	assert.False(t, anyActive(nil, at(12, 0)))
}
