package world

import "time"

// WorldTime is the in-world clock at a coordinate. Longitude shifts local
// time by one hour per 10 X units, so the world has time zones.
type WorldTime struct {
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Period string `json:"period"`
}

// TimeAt computes local world time for an X coordinate, applying the
// actor's personal offset in hours (accumulated through in-world rests and
// time skips).
func TimeAt(x int, now time.Time, offsetHours float64) WorldTime {
	t := now.Add(time.Duration(offsetHours * float64(time.Hour)))
	hour := (t.Hour() + floorDiv(x, 10)) % 24
	if hour < 0 {
		hour += 24
	}
	return WorldTime{Hour: hour, Minute: t.Minute(), Period: dayPeriod(hour)}
}

func dayPeriod(hour int) string {
	switch {
	case hour >= 5 && hour < 7:
		return "DAWN"
	case hour >= 7 && hour < 12:
		return "MORNING"
	case hour >= 12 && hour < 14:
		return "NOON"
	case hour >= 14 && hour < 18:
		return "AFTERNOON"
	case hour >= 18 && hour < 21:
		return "EVENING"
	default:
		return "NIGHT"
	}
}

// IsNight reports whether the local period is night.
func (w WorldTime) IsNight() bool { return w.Period == "NIGHT" }
