package ledger

import "time"

// =============================================================================
// PERIOD - the administrator-configured window for transaction dates
// =============================================================================

// DateLayout is the wire and storage format for document dates.
const DateLayout = "2006-01-02"

// Period is the active date window, inclusive on both ends.
// It is fetched once per operation and passed into validation explicitly.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period from two dates and rejects an end before the start.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: DateOf(start), End: DateOf(end)}
	if p.End.Before(p.Start) {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// ParsePeriod parses two YYYY-MM-DD strings.
func ParsePeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(s, e)
}

// Contains returns true if date is within [Start, End].
func (p Period) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// AssertInPeriod fails with *OutOfPeriodError when date falls outside p.
func AssertInPeriod(date time.Time, p Period) error {
	if p.Contains(date) {
		return nil
	}
	return &OutOfPeriodError{Date: DateOf(date), Start: p.Start, End: p.End}
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
