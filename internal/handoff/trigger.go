package handoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/admithub/handoff/internal/domain"
)

// ShouldEscalate reports whether a user message matches one of the
// configured trigger keywords. Matching is case-insensitive substring
// matching, the same contract the chat pipeline applies before routing a
// message here.
func ShouldEscalate(message string, s *domain.HandoffSetting) bool {
	if s == nil || !s.IsEnabled {
		return false
	}
	message = strings.ToLower(message)
	for _, keyword := range s.TriggerKeywords() {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}

// Available reports whether human agents are on duty at the given instant
// according to the configured timezone, working days and per-day hours. A
// day listed without an hour range counts as available all day.
func Available(now time.Time, s *domain.HandoffSetting) (bool, error) {
	if s == nil || !s.IsEnabled {
		return false, nil
	}
	if len(s.WorkingDays) == 0 {
		return true, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	local := now.In(loc)
	day := strings.ToLower(local.Weekday().String())

	onDuty := false
	for _, d := range s.WorkingDays {
		if strings.EqualFold(strings.TrimSpace(d), day) {
			onDuty = true
			break
		}
	}
	if !onDuty {
		return false, nil
	}

	hours, ok := s.WorkingHours[day]
	if !ok || hours.Start == "" || hours.End == "" {
		return true, nil
	}

	start, err := minutesOfDay(hours.Start)
	if err != nil {
		return false, fmt.Errorf("working hours start for %s: %w", day, err)
	}
	end, err := minutesOfDay(hours.End)
	if err != nil {
		return false, fmt.Errorf("working hours end for %s: %w", day, err)
	}

	current := local.Hour()*60 + local.Minute()
	return current >= start && current < end, nil
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
