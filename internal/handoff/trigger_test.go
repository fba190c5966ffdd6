package handoff

import (
	"testing"
	"time"

	"github.com/admithub/handoff/internal/domain"
)

func TestShouldEscalate(t *testing.T) {
	settings := domain.DefaultSettings()

	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"keyword match", "I need help with my bill", true},
		{"case insensitive", "Can I talk to an AGENT?", true},
		{"substring match", "supporting documents please", true},
		{"no keyword", "what are your opening hours", false},
		{"empty message", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldEscalate(tc.message, settings); got != tc.want {
				t.Errorf("ShouldEscalate(%q) = %v, want %v", tc.message, got, tc.want)
			}
		})
	}
}

func TestShouldEscalateDisabled(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.IsEnabled = false

	if ShouldEscalate("help", settings) {
		t.Error("Expected no escalation while disabled")
	}
	if ShouldEscalate("help", nil) {
		t.Error("Expected no escalation without settings")
	}
}

func TestAvailable(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.WorkingHours = map[string]domain.HourRange{
		"monday": {Start: "08:00", End: "17:00"},
	}

	// Asia/Ho_Chi_Minh is UTC+7.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday within hours", time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), true},   // 10:00 local
		{"monday before hours", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), false},  // 07:00 local
		{"monday after hours", time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC), false},  // 18:00 local
		{"tuesday no hours set", time.Date(2025, 6, 3, 3, 0, 0, 0, time.UTC), true}, // 10:00 local, all day
		{"sunday off duty", time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Available(tc.at, settings)
			if err != nil {
				t.Fatalf("Available failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Available(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestAvailableAlwaysWhenNoWorkingDays(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.WorkingDays = []string{}

	got, err := Available(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), settings)
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if !got {
		t.Error("Expected availability with no working day restriction")
	}
}

func TestAvailableDisabled(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.IsEnabled = false

	got, err := Available(time.Now(), settings)
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got {
		t.Error("Expected unavailability while disabled")
	}
}

func TestAvailableRejectsBadTimezone(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.Timezone = "Mars/Olympus"

	if _, err := Available(time.Now(), settings); err == nil {
		t.Error("Expected error for unknown timezone")
	}
}
