package candymachine

import (
	"strconv"
	"strings"
	"time"
)

// Countdown is the time left until a deadline, broken into display parts.
type Countdown struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// CountdownTo returns the time left from now until t, zero if t has passed.
func CountdownTo(now, t time.Time) Countdown {
	d := t.Sub(now)
	if d <= 0 {
		return Countdown{}
	}
	total := int(d / time.Second)
	return Countdown{
		Days:    total / 86400,
		Hours:   total % 86400 / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

// EndCountdownLabel renders the time left before a sale ends, e.g.
// "2 days 3 hours 5 minutes left to MINT.". Zero days and hours are omitted
// and minutes are rounded up.
func EndCountdownLabel(now, end time.Time) string {
	c := CountdownTo(now, end)
	var b strings.Builder
	if c.Days > 0 {
		b.WriteString(strconv.Itoa(c.Days) + " days ")
	}
	if c.Hours > 0 {
		b.WriteString(strconv.Itoa(c.Hours) + " hours ")
	}
	b.WriteString(strconv.Itoa(c.Minutes+1) + " minutes left to MINT.")
	return b.String()
}
