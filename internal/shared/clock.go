package shared

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

// MinutesPerDay bounds ClockTime values.
const MinutesPerDay = 24 * 60

// ParseClock accepts "H:MM", "HH:MM" and "HH:MM:SS" (seconds dropped).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, NewValidationError("time", "malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, NewValidationError("time", "malformed hour in %q", s)
	}
	if len(parts[1]) != 2 {
		return 0, NewValidationError("time", "malformed minute in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, NewValidationError("time", "malformed minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, NewValidationError("time", "malformed second in %q", s)
		}
	}
	return ClockTime(h*60 + m), nil
}

// MustClock parses s and panics on failure. Intended for tests and constants.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf extracts the time of day from t.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// Valid reports whether the value lies within one day.
func (c ClockTime) Valid() bool {
	return c >= 0 && c < MinutesPerDay
}

// Duration converts to a time.Duration since midnight.
func (c ClockTime) Duration() time.Duration {
	return time.Duration(c) * time.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes as "HH:MM".
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM".
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
