package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// The monitor writes "YYYY-MM-DD HH:MM:SS" optionally followed by ",mmm".
var monitorTime = regexp.MustCompile(`^(\d{1,4})-(\d{1,2})-(\d{1,2}) (\d{1,2}):(\d{1,2}):(\d{1,2})(?:,(\d{1,3}))?$`)

// ParseMonitorTime converts a timestamp reported by the in-guest monitor into
// a UTC time.
func ParseMonitorTime(s string) (time.Time, error) {
	m := monitorTime.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("malformed monitor timestamp %q", s)
	}

	var f [7]int
	for i := range f {
		if m[i+1] == "" {
			continue
		}
		// the pattern only admits short digit runs, Atoi cannot fail
		f[i], _ = strconv.Atoi(m[i+1])
	}

	year, month, day, hour, minute, sec, msec := f[0], f[1], f[2], f[3], f[4], f[5], f[6]
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("monitor timestamp %q out of range", s)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, msec*int(time.Millisecond), time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("monitor timestamp %q out of range", s)
	}
	return t, nil
}
