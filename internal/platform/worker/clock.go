package worker

import "time"

const (
	// dailyGrace prevents duplicate runs inside the same day.
	dailyGrace = 20 * time.Hour
	// weeklyGrace prevents duplicate runs inside the same week.
	weeklyGrace = 6 * 24 * time.Hour
)

// ShouldRunDaily reports whether a job scheduled for the given local hour is
// due. The caller passes now already converted to the job's timezone.
func ShouldRunDaily(now time.Time, hour int, lastRun time.Time) bool {
	if now.Hour() != hour {
		return false
	}

	return lastRun.IsZero() || now.Sub(lastRun) > dailyGrace
}

// ShouldRunWeekly reports whether a job scheduled for the given local
// weekday and hour is due.
func ShouldRunWeekly(now time.Time, day time.Weekday, hour int, lastRun time.Time) bool {
	if now.Weekday() != day || now.Hour() != hour {
		return false
	}

	return lastRun.IsZero() || now.Sub(lastRun) > weeklyGrace
}
