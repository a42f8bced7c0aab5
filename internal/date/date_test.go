package date

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	d, err := Parse("2024-06-07")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Year() != 2024 || d.Month() != time.June || d.Day() != 7 {
		t.Errorf("got %v", d)
	}
	if d.String() != "2024-06-07" {
		t.Errorf("String() = %q", d.String())
	}
	if _, err := Parse("06/07/2024"); err == nil {
		t.Error("expected error for non ISO date")
	}
}

func TestNewNormalizes(t *testing.T) {
	if got := New(2024, time.February, 30).String(); got != "2024-03-01" {
		t.Errorf("New(2024-02-30) = %s, want 2024-03-01", got)
	}
	if got := MustParse("2023-12-31").AddDays(1).String(); got != "2024-01-01" {
		t.Errorf("AddDays = %s", got)
	}
}

func TestOfUsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-01-02 03:00 in Tokyo is still 2024-01-01 in UTC.
	at := time.Date(2024, 1, 2, 3, 0, 0, 0, tokyo)
	if got := Of(at).String(); got != "2024-01-01" {
		t.Errorf("Of() = %s, want 2024-01-01", got)
	}
}

func TestCompare(t *testing.T) {
	a := MustParse("2024-01-31")
	b := MustParse("2024-02-01")
	if !a.Before(b) || a.After(b) || a.Compare(b) != -1 {
		t.Error("a should be before b")
	}
	if b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Error("unexpected compare result")
	}
	if a != MustParse("2024-01-31") {
		t.Error("dates should be comparable with ==")
	}
}

func TestJSON(t *testing.T) {
	var v struct {
		On Date `json:"on"`
	}
	if err := json.Unmarshal([]byte(`{"on":"2020-08-31"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.On != MustParse("2020-08-31") {
		t.Errorf("got %v", v.On)
	}
	b, _ := json.Marshal(v)
	if string(b) != `{"on":"2020-08-31"}` {
		t.Errorf("marshal = %s", b)
	}
}
