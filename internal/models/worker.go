package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeWindow is a daily working window expressed as wall-clock times
// ("HH:MM", 24h).
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklySchedule maps lowercase weekday names to the worker's window
// for that day. A missing day means the worker does not work that day.
type WeeklySchedule map[string]TimeWindow

// Worker represents a field cleaner. WeeklyScheduleRaw and
// BlackoutDatesRaw hold the jsonb columns verbatim; malformed content
// excludes the worker from availability rather than failing requests.
type Worker struct {
	ID                 string          `db:"id" json:"id"`
	FullName           string          `db:"full_name" json:"full_name"`
	Email              string          `db:"email" json:"email"`
	Phone              *string         `db:"phone" json:"phone,omitempty"`
	WeeklyScheduleRaw  json.RawMessage `db:"weekly_schedule" json:"weekly_schedule"`
	BlackoutDatesRaw   json.RawMessage `db:"blackout_dates" json:"blackout_dates"`
	Priority           int             `db:"priority" json:"priority"`
	Active             bool            `db:"active" json:"active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Schedule decodes the stored weekly schedule.
func (w *Worker) Schedule() (WeeklySchedule, error) {
	if len(w.WeeklyScheduleRaw) == 0 {
		return WeeklySchedule{}, nil
	}
	var sched WeeklySchedule
	if err := json.Unmarshal(w.WeeklyScheduleRaw, &sched); err != nil {
		return nil, fmt.Errorf("decode weekly schedule: %w", err)
	}
	return sched, nil
}

// Blackouts decodes the stored blackout dates into a lookup set keyed
// by "YYYY-MM-DD".
func (w *Worker) Blackouts() (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if len(w.BlackoutDatesRaw) == 0 {
		return set, nil
	}
	var dates []string
	if err := json.Unmarshal(w.BlackoutDatesRaw, &dates); err != nil {
		return nil, fmt.Errorf("decode blackout dates: %w", err)
	}
	for _, d := range dates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("decode blackout date %q: %w", d, err)
		}
		set[d] = struct{}{}
	}
	return set, nil
}

// WeekdayKey returns the schedule map key for a weekday.
func WeekdayKey(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// ParseClock converts "HH:MM" into minutes past midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes past midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// WorkerFilter captures filtering options for listing workers.
type WorkerFilter struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}
