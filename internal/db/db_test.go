package db

import (
	"testing"
	"time"
)

func TestParseTimeAcceptsBothColumnFormats(t *testing.T) {
	want := time.Date(2026, 8, 31, 0, 15, 11, 0, time.UTC)

	cases := []struct {
		name string
		in   string
	}{
		{"stored form", "2026-08-31 00:15:11"},
		{"driver rfc3339 form", "2026-08-31T00:15:11Z"},
	}
	for _, tc := range cases {
		got := ParseTime(tc.in)
		if !got.Equal(want) {
			t.Errorf("%s: ParseTime(%q) = %v, want %v", tc.name, tc.in, got, want)
		}
	}

	if got := ParseTime("not a time"); !got.IsZero() {
		t.Errorf("ParseTime on garbage = %v, want zero", got)
	}
}

func TestFormatTimeMatchesStoredForm(t *testing.T) {
	in := time.Date(2026, 8, 31, 0, 15, 11, 0, time.FixedZone("x", 3600))
	if got := FormatTime(in); got != "2026-08-30 23:15:11" {
		t.Errorf("FormatTime = %q", got)
	}
}
