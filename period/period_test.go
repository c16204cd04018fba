package period

import (
	"testing"
	"time"
)

func ptr(d Date) *Date { return &d }

func TestParseISO(t *testing.T) {
	d, err := ParseISO("2026-3-7")
	if err != nil {
		t.Fatal(err)
	}
	if d != New(2026, time.March, 7) {
		t.Fatalf("got %v", d)
	}
	if d.String() != "2026-03-07" || d.BR() != "07/03/2026" {
		t.Fatalf("String=%s BR=%s", d, d.BR())
	}
	if _, err := ParseISO("07/03/2026"); err == nil {
		t.Fatal("expected error for BR input")
	}
}

func TestParseOptionalISO(t *testing.T) {
	d, err := ParseOptionalISO("")
	if err != nil || d != nil {
		t.Fatalf("empty: %v, %v", d, err)
	}
	d, err = ParseOptionalISO("2026-01-31")
	if err != nil || d == nil || d.Day() != 31 {
		t.Fatalf("got %v, %v", d, err)
	}
}

func TestParseBR(t *testing.T) {
	tests := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"05/02/2026", New(2026, time.February, 5), true},
		{"  05/02/2026 14:32 ", New(2026, time.February, 5), true},
		{"Emissão: 31/12/2025", New(2025, time.December, 31), true},
		{"31/02/2026", Date{}, false},
		{"2026-02-05", Date{}, false},
		{"", Date{}, false},
		{"5/2/2026", Date{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseBR(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseBR(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRange_SingleDayBoundary(t *testing.T) {
	day := New(2026, time.March, 10)
	r := Range{From: ptr(day), To: ptr(day)}

	if !r.Contains(day) {
		t.Error("same-day range must include that day")
	}
	if r.Contains(day.Add(-1)) {
		t.Error("day before must be excluded")
	}
	if r.Contains(day.Add(1)) {
		t.Error("day after must be excluded")
	}
}

func TestRange_OpenBounds(t *testing.T) {
	from := New(2026, time.March, 10)
	r := Range{From: &from}
	if !r.Contains(New(2030, 1, 1)) || r.Contains(New(2026, 3, 9)) {
		t.Error("open upper bound misbehaves")
	}
	r = Range{To: &from}
	if !r.Contains(New(2000, 1, 1)) || r.Contains(New(2026, 3, 11)) {
		t.Error("open lower bound misbehaves")
	}
}

func TestRange_Keep(t *testing.T) {
	r := Range{From: ptr(New(2026, 3, 1)), To: ptr(New(2026, 3, 31))}
	if !r.Keep("15/03/2026") {
		t.Error("in-range row dropped")
	}
	if r.Keep("01/04/2026") {
		t.Error("out-of-range row kept")
	}
	if !r.Keep("data inválida") {
		t.Error("unparseable date must be kept")
	}
	if !(Range{}).Keep("01/01/1999") {
		t.Error("empty range must keep everything")
	}
}

func TestRange_Label(t *testing.T) {
	d1, d2 := New(2026, 3, 1), New(2026, 3, 31)
	tests := []struct {
		r    Range
		want string
	}{
		{Range{}, "N/D até N/D"},
		{Range{From: &d1}, "01/03/2026 até N/D"},
		{Range{To: &d2}, "N/D até 31/03/2026"},
		{Range{From: &d1, To: &d2}, "01/03/2026 até 31/03/2026"},
	}
	for _, tt := range tests {
		if got := tt.r.Label(); got != tt.want {
			t.Errorf("Label = %q, want %q", got, tt.want)
		}
	}
}
