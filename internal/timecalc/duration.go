package timecalc

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/Tiliavir/t2r/internal/apperr"
)

// RoundingPolicy selects how RoundTo picks a multiple of the step.
type RoundingPolicy string

const (
	RoundRegular RoundingPolicy = "regular"
	RoundUp      RoundingPolicy = "up"
	RoundDown    RoundingPolicy = "down"
)

// Valid reports whether p is one of the known policies.
func (p RoundingPolicy) Valid() bool {
	switch p {
	case RoundRegular, RoundUp, RoundDown:
		return true
	}
	return false
}

var hhmmPattern = regexp.MustCompile(`^(\d+):([0-5]\d)$`)

// Duration is a non-negative span of time with second precision.
type Duration struct {
	seconds int64
}

// FromSeconds returns a Duration of n seconds. Negative input yields zero.
func FromSeconds(n int64) Duration {
	if n < 0 {
		n = 0
	}
	return Duration{seconds: n}
}

// maxHours is the largest hour count whose H:59 still fits in an int64 of
// seconds.
const maxHours = (math.MaxInt64 - 3599) / 3600

// ParseHHMM parses text like "1:30" or "12:05".
func ParseHHMM(text string) (Duration, error) {
	m := hhmmPattern.FindStringSubmatch(text)
	if m == nil {
		return Duration{}, &apperr.FormatError{Input: text, Expect: "H:MM"}
	}
	h, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || h > maxHours {
		return Duration{}, &apperr.FormatError{Input: text, Expect: "H:MM"}
	}
	mins, _ := strconv.ParseInt(m[2], 10, 64)
	return Duration{seconds: h*3600 + mins*60}, nil
}

// Seconds returns the total number of seconds.
func (d Duration) Seconds() int64 { return d.seconds }

// IsZero reports whether d is empty.
func (d Duration) IsZero() bool { return d.seconds == 0 }

// Add returns d + o.
func (d Duration) Add(o Duration) Duration {
	return Duration{seconds: d.seconds + o.seconds}
}

// Sub returns d - o, never less than zero.
func (d Duration) Sub(o Duration) Duration {
	return FromSeconds(d.seconds - o.seconds)
}

// RoundTo returns d rounded to a multiple of stepMinutes. Regular rounding
// sends an exact half step up.
func (d Duration) RoundTo(stepMinutes int, policy RoundingPolicy) (Duration, error) {
	if stepMinutes < 1 {
		return d, &apperr.FormatError{Input: strconv.Itoa(stepMinutes), Expect: "a rounding step of at least 1 minute"}
	}
	step := int64(stepMinutes) * 60
	var n int64
	switch policy {
	case RoundRegular:
		n = (d.seconds + step/2) / step
	case RoundUp:
		n = (d.seconds + step - 1) / step
	case RoundDown:
		n = d.seconds / step
	default:
		return d, &apperr.FormatError{Input: string(policy), Expect: "one of regular, up, down"}
	}
	return Duration{seconds: n * step}, nil
}

// HHMM renders the duration as H:MM, dropping leftover seconds.
func (d Duration) HHMM() string {
	mins := d.seconds / 60
	return fmt.Sprintf("%d:%02d", mins/60, mins%60)
}

// DecimalHours renders hours with two decimals after rounding the seconds
// up to the next whole minute.
func (d Duration) DecimalHours() string {
	c := d.hundredths()
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

// HoursValue is the numeric form of DecimalHours.
func (d Duration) HoursValue() float64 {
	return float64(d.hundredths()) / 100
}

func (d Duration) hundredths() int64 {
	mins := (d.seconds + 59) / 60
	return (mins*100 + 30) / 60
}

// String implements fmt.Stringer.
func (d Duration) String() string { return d.HHMM() }
