package models

import "testing"

func TestClassMatches(t *testing.T) {
	cases := []struct {
		requested, driver string
		want              bool
	}{
		{"sedan", "sedan", true},
		{"sedan", "sedan_ac", true},
		{"sedan_ac", "sedan_ac", true},
		{"sedan_ac", "sedan", false},
		{"sedan_ac", "sedan_ac_ac", false},
		{"sedan", "hatchback", false},
		{"hatchback", "hatchback_ac", true},
	}
	for _, c := range cases {
		if got := ClassMatches(c.requested, c.driver); got != c.want {
			t.Errorf("ClassMatches(%q, %q) = %v, want %v", c.requested, c.driver, got, c.want)
		}
	}
}

func TestRideStatusActive(t *testing.T) {
	active := []RideStatus{RideAccepted, RideDriverArrived, RideInProgress}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("expected %s to be active", s)
		}
	}
	inactive := []RideStatus{RideRequested, RideCompleted, RideCancelled, RideNoDriversAvailable}
	for _, s := range inactive {
		if s.Active() {
			t.Errorf("expected %s not to be active", s)
		}
	}
}
