// Package period holds the day-granularity dates used to filter portal rows
// and to label runs.
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ISOFormat is the wire format of run configurations ("2026-03-01").
const ISOFormat = "2006-01-02"

// BRFormat is the portal's display format ("01/03/2026").
const BRFormat = "02/01/2006"

const readISOFormat = "2006-1-2"

// Date is a calendar day with no time-of-day component.
type Date struct {
	y int
	m time.Month
	d int
}

func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// New returns a normalized Date.
func New(year int, month time.Month, day int) Date {
	d := Date{year, month, day}
	d.y, d.m, d.d = d.time().Date()
	return d
}

// Of returns the calendar day of t in t's location.
func Of(t time.Time) Date { return New(t.Date()) }

func (d Date) Year() int          { return d.y }
func (d Date) Month() time.Month  { return d.m }
func (d Date) Day() int           { return d.d }
func (d Date) Add(days int) Date  { return New(d.y, d.m, d.d+days) }
func (d Date) Before(x Date) bool { return d.time().Before(x.time()) }
func (d Date) After(x Date) bool  { return d.time().After(x.time()) }
func (d Date) IsZero() bool       { return d == Date{} }

// String formats the date as ISO-8601.
func (d Date) String() string { return d.time().Format(ISOFormat) }

// BR formats the date as DD/MM/YYYY.
func (d Date) BR() string { return d.time().Format(BRFormat) }

// ParseISO parses "YYYY-MM-DD". Single-digit month and day are accepted.
func ParseISO(s string) (Date, error) {
	t, err := time.Parse(readISOFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("period: invalid date %q, want YYYY-MM-DD: %w", s, err)
	}
	return Of(t), nil
}

var brDate = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)

// ParseBR finds the first DD/MM/YYYY date in s. Surrounding text (a time of
// day, a label) is ignored. ok is false when no valid date is present.
func ParseBR(s string) (d Date, ok bool) {
	m := brDate.FindStringSubmatch(s)
	if m == nil {
		return Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Date{}, false
	}
	d = New(year, time.Month(month), day)
	if d.Day() != day {
		return Date{}, false // 31/02 and friends
	}
	return d, true
}

// ParseOptionalISO parses s, returning nil for an empty string.
func ParseOptionalISO(s string) (*Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseISO(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
