package markethours

import (
	"testing"
	"time"
)

// A regular trading Monday in IST.
func istTime(hour, min int) time.Time {
	return time.Date(2026, time.March, 2, hour, min, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", istTime(9, 14), false},
		{"at open", istTime(9, 15), true},
		{"midday", istTime(12, 0), true},
		{"just before close", istTime(15, 29), true},
		{"at close", istTime(15, 30), false},
		{"saturday", time.Date(2026, time.March, 7, 12, 0, 0, 0, IST), false},
		{"holiday", time.Date(2026, time.January, 26, 12, 0, 0, 0, IST), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSquareOff(t *testing.T) {
	so := SquareOffTime(istTime(10, 0))
	if so.Hour() != 15 || so.Minute() != 25 {
		t.Fatalf("SquareOffTime = %s, want 15:25", so.Format("15:04"))
	}

	if IsAfterSquareOff(istTime(15, 24)) {
		t.Error("15:24 should be before square-off")
	}
	if !IsAfterSquareOff(istTime(15, 25)) {
		t.Error("15:25 should be at square-off")
	}
	if !IsAfterSquareOff(istTime(15, 29)) {
		t.Error("15:29 should be after square-off")
	}

	if d := TimeUntilSquareOff(istTime(15, 20)); d != 5*time.Minute {
		t.Errorf("TimeUntilSquareOff at 15:20 = %s, want 5m", d)
	}
	if d := TimeUntilSquareOff(istTime(15, 26)); d != 0 {
		t.Errorf("TimeUntilSquareOff past cutoff = %s, want 0", d)
	}
}

func TestNextOpen(t *testing.T) {
	// Before open on a trading day returns the same day's open.
	open := NextOpen(istTime(8, 0))
	if open.Day() != 2 || open.Hour() != 9 || open.Minute() != 15 {
		t.Errorf("NextOpen before open = %s", open)
	}

	// After close rolls to the next trading day.
	open = NextOpen(istTime(16, 0))
	if open.Day() != 3 || open.Hour() != 9 || open.Minute() != 15 {
		t.Errorf("NextOpen after close = %s", open)
	}

	// Friday after close skips the weekend.
	friday := time.Date(2026, time.March, 6, 16, 0, 0, 0, IST)
	open = NextOpen(friday)
	if open.Weekday() != time.Monday || open.Day() != 9 {
		t.Errorf("NextOpen on Friday evening = %s, want Monday 9th", open)
	}
}

func TestIsTradingDay(t *testing.T) {
	if !IsTradingDay(istTime(12, 0)) {
		t.Error("regular Monday should be a trading day")
	}
	if IsTradingDay(time.Date(2026, time.December, 25, 12, 0, 0, 0, IST)) {
		t.Error("Christmas should not be a trading day")
	}
}
