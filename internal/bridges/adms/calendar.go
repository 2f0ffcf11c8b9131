package adms

import "time"

// Device calendar constants. Terminals pack timestamps as if every month
// had 31 days and every year 12 such months, counted from 2000-01-01.
const (
	calendarEpochYear = 2000
	daysPerMonth      = 31
	monthsPerYear     = 12
	secondsPerDay     = 86400
)

// EncodeDeviceTime packs t (taken in UTC) into the device's integer
// seconds representation.
func EncodeDeviceTime(t time.Time) int64 {
	t = t.UTC()
	months := int64(t.Year()-calendarEpochYear)*monthsPerYear + int64(t.Month()-1)
	days := months*daysPerMonth + int64(t.Day()-1)
	tod := int64(t.Hour()*3600 + t.Minute()*60 + t.Second())
	return days*secondsPerDay + tod
}

// DecodeDeviceTime reverses EncodeDeviceTime. The result is in UTC.
//
// A packed value naming a day the month does not have (the 31st of a
// 30-day month) normalises into the following month, matching what the
// device itself displays.
func DecodeDeviceTime(packed int64) time.Time {
	tod := packed % secondsPerDay
	days := packed / secondsPerDay

	day := days%daysPerMonth + 1
	months := days / daysPerMonth
	month := months%monthsPerYear + 1
	year := months/monthsPerYear + calendarEpochYear

	return time.Date(int(year), time.Month(month), int(day),
		int(tod/3600), int(tod%3600/60), int(tod%60), 0, time.UTC)
}
