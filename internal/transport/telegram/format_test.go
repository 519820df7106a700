package telegram

import (
	"testing"
	"time"
)

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		hour    int
		min     int
		wantErr bool
	}{
		{"21:30", 21, 30, false},
		{"0:05", 0, 5, false},
		{"09:00", 9, 0, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"12", 0, 0, true},
	}
	for _, tc := range cases {
		h, m, err := parseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseHHMM(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHHMM(%q): %v", tc.in, err)
			continue
		}
		if h != tc.hour || m != tc.min {
			t.Errorf("parseHHMM(%q) = %d:%d, want %d:%d", tc.in, h, m, tc.hour, tc.min)
		}
	}
}

func TestParseRepeat(t *testing.T) {
	rec, day, err := parseRepeat("")
	if err != nil || rec || day != nil {
		t.Fatalf("empty repeat should be one-shot, got rec=%v day=%v err=%v", rec, day, err)
	}

	rec, day, err = parseRepeat("daily")
	if err != nil || !rec || day != nil {
		t.Fatalf("daily: rec=%v day=%v err=%v", rec, day, err)
	}

	rec, day, err = parseRepeat("Wed")
	if err != nil || !rec || day == nil || *day != time.Wednesday {
		t.Fatalf("Wed: rec=%v day=%v err=%v", rec, day, err)
	}

	if _, _, err := parseRepeat("fortnightly"); err == nil {
		t.Fatal("expected error for unknown repeat")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 minutes"},
		{-5 * time.Minute, "0 minutes"},
		{30 * time.Second, "1 minute"},
		{time.Minute, "1 minute"},
		{25 * time.Minute, "25 minutes"},
		{time.Hour, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{125 * time.Minute, "2 hours and 5 minutes"},
		{61 * time.Minute, "1 hour and 1 minute"},
	}
	for _, tc := range cases {
		if got := humanDuration(tc.in); got != tc.want {
			t.Errorf("humanDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDescribeRepeat(t *testing.T) {
	wed := time.Wednesday
	if got := describeRepeat(false, nil); got != "once" {
		t.Errorf("one-shot = %q", got)
	}
	if got := describeRepeat(true, nil); got != "daily" {
		t.Errorf("daily = %q", got)
	}
	if got := describeRepeat(true, &wed); got != "every Wednesday" {
		t.Errorf("weekly = %q", got)
	}
}
