package domain

import (
	"fmt"
	"sort"
	"time"
)

// Date is a timezone-naive calendar day. All date arithmetic in the service
// is done on civil days pinned to UTC; providers that speak in instants are
// windowed as [start 00:00Z, end+1d 00:00Z).
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// ParseDate parses an ISO-8601 calendar date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustDate is a test/fixture helper that panics on a malformed date literal.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as ISO-8601.
func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

// IsZero reports whether the date is the zero value.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d falls before other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// Next returns the following calendar day.
func (d Date) Next() Date {
	return DateOf(d.Time().AddDate(0, 0, 1))
}

// DateRange is a closed interval of calendar days.
type DateRange struct {
	Start Date
	End   Date
}

// NewDateRange validates start <= end.
func NewDateRange(start, end Date) (DateRange, error) {
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("invalid range: end %s before start %s", end, start)
	}
	return DateRange{Start: start, End: end}, nil
}

// Dates expands the range to its discrete calendar days in ascending order.
func (r DateRange) Dates() []Date {
	var out []Date
	for d := r.Start; !r.End.Before(d); d = d.Next() {
		out = append(out, d)
	}
	return out
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !r.End.Before(d)
}

// Days returns the number of calendar days in the range.
func (r DateRange) Days() int {
	return int(r.End.Time().Sub(r.Start.Time())/(24*time.Hour)) + 1
}

// String formats the range as start..end.
func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// CoveringRange returns the smallest range containing every supplied date.
// The second return is false when the set is empty.
func CoveringRange(dates []Date) (DateRange, bool) {
	if len(dates) == 0 {
		return DateRange{}, false
	}
	min, max := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(min) {
			min = d
		}
		if max.Before(d) {
			max = d
		}
	}
	return DateRange{Start: min, End: max}, true
}

// SortDates orders dates ascending in place and returns the slice.
func SortDates(dates []Date) []Date {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
