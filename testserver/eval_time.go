package testserver

import (
	"fmt"
	"math"
	"time"

	"github.com/andreyvit/reql"
)

func (e *evaluator) evalTime(t reql.Term) (any, bool, error) {
	k := t.Kind()
	switch {
	case k >= reql.TermMonday && k <= reql.TermSunday:
		return reql.Number(k - reql.TermMonday + 1), true, nil
	case k >= reql.TermJanuary && k <= reql.TermDecember:
		return reql.Number(k - reql.TermJanuary + 1), true, nil
	}

	var v any
	var err error
	switch k {
	case reql.TermNow:
		v = e.now
	case reql.TermTime:
		v, err = e.makeTime(t)
	case reql.TermEpochTime:
		var secs float64
		if secs, err = e.argNumber(t, 0); err == nil {
			v = reql.NewTime(epochTime(secs))
		}
	case reql.TermISO8601:
		v, err = e.iso8601(t)
	case reql.TermInTimezone:
		var tm reql.Time
		if tm, err = e.argTime(t, 0); err != nil {
			break
		}
		var tz string
		if tz, err = e.argString(t, 1); err != nil {
			break
		}
		var loc *time.Location
		if loc, err = timezone(tz); err == nil {
			v = reql.NewTime(tm.T.In(loc))
		}
	case reql.TermDuring:
		v, err = e.during(t)
	case reql.TermToISO8601:
		var tm reql.Time
		if tm, err = e.argTime(t, 0); err == nil {
			v = reql.String(tm.T.Format("2006-01-02T15:04:05.000") + tm.Timezone())
		}
	case reql.TermToEpochTime:
		var tm reql.Time
		if tm, err = e.argTime(t, 0); err == nil {
			v = reql.Number(tm.Epoch())
		}
	case reql.TermTimezone, reql.TermDate, reql.TermTimeOfDay, reql.TermYear, reql.TermMonth,
		reql.TermDay, reql.TermDayOfWeek, reql.TermDayOfYear, reql.TermHours, reql.TermMinutes, reql.TermSeconds:
		var tm reql.Time
		if tm, err = e.argTime(t, 0); err == nil {
			v = timeAccessor(k, tm)
		}
	default:
		return nil, false, nil
	}
	return v, true, err
}

func timeAccessor(k reql.TermKind, tm reql.Time) reql.Datum {
	tt := tm.T
	switch k {
	case reql.TermTimezone:
		return reql.String(tm.Timezone())
	case reql.TermDate:
		y, m, d := tt.Date()
		return reql.NewTime(time.Date(y, m, d, 0, 0, 0, 0, tt.Location()))
	case reql.TermTimeOfDay:
		y, m, d := tt.Date()
		return reql.Number(tt.Sub(time.Date(y, m, d, 0, 0, 0, 0, tt.Location())).Seconds())
	case reql.TermYear:
		return reql.Number(tt.Year())
	case reql.TermMonth:
		return reql.Number(tt.Month())
	case reql.TermDay:
		return reql.Number(tt.Day())
	case reql.TermDayOfWeek:
		wd := int(tt.Weekday())
		if wd == 0 {
			wd = 7
		}
		return reql.Number(wd)
	case reql.TermDayOfYear:
		return reql.Number(tt.YearDay())
	case reql.TermHours:
		return reql.Number(tt.Hour())
	case reql.TermMinutes:
		return reql.Number(tt.Minute())
	default:
		return reql.Number(float64(tt.Second()) + float64(tt.Nanosecond())/1e9)
	}
}

func (e *evaluator) argTime(t reql.Term, i int) (reql.Time, error) {
	d, err := e.argDatum(t, i)
	if err != nil {
		return reql.Time{}, err
	}
	tm, ok := d.(reql.Time)
	if !ok {
		return reql.Time{}, withFrame(logicErrf("Expected type PTYPE<TIME> but found %s.", d.TypeName()), i)
	}
	return tm, nil
}

// timezone parses "Z" and "±hh:mm" offsets.
func timezone(tz string) (*time.Location, error) {
	if tz == "Z" || tz == "+00:00" || tz == "-00:00" {
		return time.UTC, nil
	}
	var h, m int
	if len(tz) != 6 || (tz[0] != '+' && tz[0] != '-') || tz[3] != ':' {
		return nil, logicErrf("Timezone `%s` does not start with `-` or `+`.", tz)
	}
	if _, err := fmt.Sscanf(tz[1:], "%02d:%02d", &h, &m); err != nil || h > 23 || m > 59 {
		return nil, logicErrf("Invalid timezone `%s`.", tz)
	}
	off := h*3600 + m*60
	if tz[0] == '-' {
		off = -off
	}
	return time.FixedZone("", off), nil
}

func (e *evaluator) makeTime(t reql.Term) (any, error) {
	n := len(t.Args())
	if n != 4 && n != 7 {
		return nil, logicErrf("Expected between 4 and 7 arguments but found %d.", n)
	}
	parts := make([]float64, n-1)
	for i := range parts {
		var err error
		if parts[i], err = e.argNumber(t, i); err != nil {
			return nil, err
		}
	}
	tz, err := e.argString(t, n-1)
	if err != nil {
		return nil, err
	}
	loc, err := timezone(tz)
	if err != nil {
		return nil, withFrame(err, n-1)
	}
	var hour, minute int
	var sec float64
	if n == 7 {
		hour, minute, sec = int(parts[3]), int(parts[4]), parts[5]
	}
	whole, frac := math.Modf(sec)
	tt := time.Date(int(parts[0]), time.Month(parts[1]), int(parts[2]), hour, minute, int(whole), int(frac*1e9), loc)
	return reql.NewTime(tt), nil
}

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15Z07:00",
	"20060102T150405.999999999Z0700",
	"2006-01-02Z07:00",
}

var isoLocalLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"20060102T150405.999999999",
	"2006-01-02",
	"20060102",
}

func (e *evaluator) iso8601(t reql.Term) (any, error) {
	s, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	for _, layout := range isoLayouts {
		if tt, err := time.Parse(layout, s); err == nil {
			return reql.NewTime(tt), nil
		}
	}
	defTZ, err := e.optString(t, "default_timezone", "")
	if err != nil {
		return nil, err
	}
	for _, layout := range isoLocalLayouts {
		if _, err := time.Parse(layout, s); err != nil {
			continue
		}
		if defTZ == "" {
			return nil, logicErrf("ISO 8601 string has no time zone, and no default time zone was provided.")
		}
		loc, err := timezone(defTZ)
		if err != nil {
			return nil, withFrame(err, "default_timezone")
		}
		tt, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return nil, logicErrf("Invalid ISO 8601 string `%s`.", s)
		}
		return reql.NewTime(tt), nil
	}
	return nil, logicErrf("Invalid date string `%s`.", s)
}

func (e *evaluator) during(t reql.Term) (any, error) {
	tm, err := e.argTime(t, 0)
	if err != nil {
		return nil, err
	}
	start, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	end, err := e.argDatum(t, 2)
	if err != nil {
		return nil, err
	}
	leftBound, err := e.optString(t, "left_bound", "closed")
	if err != nil {
		return nil, err
	}
	rightBound, err := e.optString(t, "right_bound", "open")
	if err != nil {
		return nil, err
	}
	if !isBound(start, reql.PseudoMinVal) {
		c := reql.Compare(tm, start)
		if c < 0 || (c == 0 && leftBound != "closed") {
			return reql.Bool(false), nil
		}
	}
	if !isBound(end, reql.PseudoMaxVal) {
		c := reql.Compare(tm, end)
		if c > 0 || (c == 0 && rightBound != "closed") {
			return reql.Bool(false), nil
		}
	}
	return reql.Bool(true), nil
}
