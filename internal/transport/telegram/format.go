package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseHHMM parses "21:30" into wall-clock hour/minute.
func parseHHMM(s string) (hour, min int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	min, err = strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, min, nil
}

// parseRepeat interprets the optional repeat argument of /schedule:
// "daily" means every day, a weekday name means weekly on that day.
func parseRepeat(s string) (recurring bool, day *time.Weekday, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return false, nil, nil
	case "daily", "everyday":
		return true, nil, nil
	}
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return false, nil, fmt.Errorf("unknown repeat %q (use daily or a weekday)", s)
	}
	return true, &d, nil
}

var weekdayByName = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// humanDuration renders a duration the way people say it: "2 hours and
// 5 minutes". Sub-minute remainders round up so a timer with seconds
// left never reads "0 minutes".
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "0 minutes"
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	h, m := mins/60, mins%60
	switch {
	case h == 0:
		return plural(m, "minute")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " and " + plural(m, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// describeRepeat renders the recurrence of a schedule row for listings.
func describeRepeat(recurring bool, day *time.Weekday) string {
	switch {
	case !recurring:
		return "once"
	case day == nil:
		return "daily"
	default:
		return "every " + day.String()
	}
}
