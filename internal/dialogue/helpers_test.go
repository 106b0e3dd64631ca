package dialogue

import (
	"strings"
	"testing"
	"time"

	"quotebot/internal/models"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"45,000", 45000, true},
		{" 1 500 000 ", 1500000, true},
		{"3.5", 3.5, true},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"", 0, false},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseNumber(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLookupFirstMatchWins(t *testing.T) {
	reply, ok := Lookup("Is Comprehensive better? what is a premium")
	if !ok || !strings.HasPrefix(reply, "A premium") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if _, ok := Lookup("please email me the pdf"); !ok {
		t.Fatalf("expected email+pdf trigger")
	}
	if _, ok := Lookup("email me"); ok {
		t.Fatalf("email alone should not match")
	}
}

func TestLookupExcessNeedsTheQuestion(t *testing.T) {
	for _, text := range []string{"What is an excess?", "what is a deductible"} {
		reply, ok := Lookup(text)
		if !ok || !strings.HasPrefix(reply, "Excess (deductible)") {
			t.Fatalf("Lookup(%q) = %q, %v", text, reply, ok)
		}
	}
	for _, text := range []string{"excess protector", "a low deductible please"} {
		if reply, ok := Lookup(text); ok {
			t.Fatalf("Lookup(%q) should not answer, got %q", text, reply)
		}
	}
}

func TestValidatePasswordCountsCharacters(t *testing.T) {
	if _, problem := Validate(passwordQuestion, "päss1"); problem != msgWeakPassword {
		t.Fatalf("five characters should be too short, got %q", problem)
	}
	v, problem := Validate(passwordQuestion, "pässwö")
	if problem != "" || v.Str != "pässwö" {
		t.Fatalf("six characters should pass, got %q %+v", problem, v)
	}
}

func TestFormatAmount(t *testing.T) {
	for in, want := range map[float64]string{0: "0", 999: "999", 45000: "45,000", 1234567.6: "1,234,568", -1500: "-1,500"} {
		if got := formatAmount(in); got != want {
			t.Fatalf("formatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPayloadDefaults(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := BuildPayload(Slots{"coverage_vehicle_year": Number(2015), "vehicle_category": Text("Commercial")}, now)

	if payload["AGE"] != 30.0 || payload["BIRTH"] != 0.0 {
		t.Fatalf("unexpected age defaults: %v %v", payload["AGE"], payload["BIRTH"])
	}
	if payload["CAR_AGE"] != 10.0 {
		t.Fatalf("car age should derive from the vehicle year, got %v", payload["CAR_AGE"])
	}
	if payload["CAR_USE"] != 1 || payload["BLUEBOOK"] != 7000.0 || payload["TRAVTIME"] != 20.0 {
		t.Fatalf("unexpected motor defaults: %+v", payload)
	}
	if payload["email_send"] != true || payload["attach_pdf"] != true {
		t.Fatalf("delivery flags missing")
	}
}

func TestEligibleAddonsFiltersAndSorts(t *testing.T) {
	ref := &models.MotorReference{Addons: map[string]models.Addon{
		"windscreen":  {Label: "Windscreen", AllowedCoverTypes: []string{"Comprehensive"}},
		"loss_of_use": {Label: "Loss of use", AllowedCategories: []string{"Private"}},
		"pvt":         {Label: "Political violence"},
	}}
	got := EligibleAddons(ref, "comprehensive", "Private")
	if len(got) != 3 || got[0].Key != "loss_of_use" || got[2].Key != "windscreen" {
		t.Fatalf("unexpected eligible add-ons %+v", got)
	}
	if got := EligibleAddons(ref, "TPO", "Commercial"); len(got) != 1 || got[0].Key != "pvt" {
		t.Fatalf("unexpected filtered add-ons %+v", got)
	}
	if got := EligibleAddons(withDefaults(nil), "TPO", "Private"); len(got) != 0 {
		t.Fatalf("default catalog has no add-ons, got %v", got)
	}
}
