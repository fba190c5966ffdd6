package domain

import (
	"strings"
	"time"
)

// HourRange is a daily working-hours window in 24h "HH:MM" form.
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HandoffSetting controls when and how escalation to a human agent is offered.
// A single settings record exists per deployment.
type HandoffSetting struct {
	ID             string               `json:"id"`
	AgentAlias     string               `json:"agent_alias"`
	TriggerPattern string               `json:"trigger_pattern"`
	Timezone       string               `json:"timezone"`
	WorkingDays    []string             `json:"working_days"`
	WorkingHours   map[string]HourRange `json:"working_hours"`
	IsEnabled      bool                 `json:"is_enabled"`
	TimeoutSeconds int                  `json:"timeout_seconds"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// DefaultSettings returns the settings used until an admin customizes them.
func DefaultSettings() *HandoffSetting {
	return &HandoffSetting{
		AgentAlias:     "Agent",
		TriggerPattern: "support,help,agent",
		Timezone:       "Asia/Ho_Chi_Minh",
		WorkingDays:    []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		WorkingHours:   map[string]HourRange{},
		IsEnabled:      true,
		TimeoutSeconds: 60,
	}
}

// TriggerKeywords splits the comma-separated trigger pattern into
// lower-cased keywords, skipping empty entries.
func (s *HandoffSetting) TriggerKeywords() []string {
	parts := strings.Split(s.TriggerPattern, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}

// Timeout returns the configured waiting deadline as a duration.
func (s *HandoffSetting) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}
