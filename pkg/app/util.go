package app

import "time"

// calculateNextDelay returns the time until the next quarter-hour mark after now.
func calculateNextDelay(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now)
}

// afterFetchTime reports whether now is past today's planning time in loc.
func afterFetchTime(now time.Time, loc *time.Location, hour, minute int) bool {
	lt := now.In(loc)
	fetch := time.Date(lt.Year(), lt.Month(), lt.Day(), hour, minute, 0, 0, loc)
	return !lt.Before(fetch)
}
