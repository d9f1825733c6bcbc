package util

import (
	"reflect"
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix ms %v", got)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default for garbage")
	}
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2025, 1, 1, 10, 7, 33, 0, time.UTC)
	to := time.Date(2025, 1, 1, 12, 59, 1, 0, time.UTC)
	f, tt := AlignFromTo(from, to, "1h")
	if f.Minute() != 0 || tt.Hour() != 12 || tt.Minute() != 0 {
		t.Fatalf("unexpected alignment %v %v", f, tt)
	}
	f, _ = AlignFromTo(from, to, "5m")
	if f.Minute() != 5 || f.Second() != 0 {
		t.Fatalf("unexpected 5m alignment %v", f)
	}
	if d := TimeframeDuration("weird"); d != time.Minute {
		t.Fatalf("unknown tf = %v", d)
	}
}

func TestStartOfDayUTC(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	got := StartOfDayUTC(time.Date(2024, 3, 2, 3, 0, 0, 0, loc))
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a, b,,c ")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("got %v", got)
	}
	if got := SplitCSV(""); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
