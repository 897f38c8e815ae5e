package reql

// Dates and times.

var (
	Monday    = Term{kind: TermMonday}
	Tuesday   = Term{kind: TermTuesday}
	Wednesday = Term{kind: TermWednesday}
	Thursday  = Term{kind: TermThursday}
	Friday    = Term{kind: TermFriday}
	Saturday  = Term{kind: TermSaturday}
	Sunday    = Term{kind: TermSunday}

	January   = Term{kind: TermJanuary}
	February  = Term{kind: TermFebruary}
	March     = Term{kind: TermMarch}
	April     = Term{kind: TermApril}
	May       = Term{kind: TermMay}
	June      = Term{kind: TermJune}
	July      = Term{kind: TermJuly}
	August    = Term{kind: TermAugust}
	September = Term{kind: TermSeptember}
	October   = Term{kind: TermOctober}
	November  = Term{kind: TermNovember}
	December  = Term{kind: TermDecember}
)

// Now is the time the query started; every Now in a query returns the same
// value.
func Now() Term { return mk(TermNow) }

// MakeTime builds a time from year, month, day, optional hour, minute and
// second, and a timezone ("Z" or "+hh:mm") as the last argument.
func MakeTime(args ...any) Term { return mk(TermTime, args...) }

func EpochTime(seconds any) Term { return mk(TermEpochTime, seconds) }

func ISO8601(s any, opts ...Optional) Term { return mkOpts(TermISO8601, opts, s) }

func (t Term) InTimezone(tz any) Term { return mk(TermInTimezone, t, tz) }
func (t Term) Timezone() Term         { return mk(TermTimezone, t) }
func (t Term) Date() Term             { return mk(TermDate, t) }
func (t Term) TimeOfDay() Term        { return mk(TermTimeOfDay, t) }
func (t Term) Year() Term             { return mk(TermYear, t) }
func (t Term) Month() Term            { return mk(TermMonth, t) }
func (t Term) Day() Term              { return mk(TermDay, t) }
func (t Term) DayOfWeek() Term        { return mk(TermDayOfWeek, t) }
func (t Term) DayOfYear() Term        { return mk(TermDayOfYear, t) }
func (t Term) Hours() Term            { return mk(TermHours, t) }
func (t Term) Minutes() Term          { return mk(TermMinutes, t) }
func (t Term) Seconds() Term          { return mk(TermSeconds, t) }
func (t Term) ToISO8601() Term        { return mk(TermToISO8601, t) }
func (t Term) ToEpochTime() Term      { return mk(TermToEpochTime, t) }

// During tests whether t is in [start, end), bounds adjustable with DuringOpts.
func (t Term) During(start, end any, opts ...Optional) Term {
	return mkOpts(TermDuring, opts, t, start, end)
}

func InTimezone(tm Term, tz any) Term { return tm.InTimezone(tz) }
func ToISO8601(tm Term) Term          { return tm.ToISO8601() }
func ToEpochTime(tm Term) Term        { return tm.ToEpochTime() }

func During(tm Term, start, end any, opts ...Optional) Term {
	return tm.During(start, end, opts...)
}
