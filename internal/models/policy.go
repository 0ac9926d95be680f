package models

import "time"

// Policy holds the tunable business rules read by every scheduling
// evaluation. It is loaded fresh from the settings store per call and
// passed explicitly so tests can inject arbitrary values.
type Policy struct {
	BusinessOpen                  string `json:"business_hours_open"`
	BusinessClose                 string `json:"business_hours_close"`
	BufferMinutes                 int    `json:"buffer_minutes"`
	MinLeadDays                   int    `json:"min_lead_days"`
	AllowSameDay                  bool   `json:"allow_same_day"`
	RescheduleNoticeRecurringDays int    `json:"reschedule_notice_recurring_days"`
	CancelNoticeOnetimeHours      int    `json:"cancel_notice_onetime_hours"`
	CancelNoticeRecurringDays     int    `json:"cancel_notice_recurring_days"`
	DefaultDurationMinutes        int    `json:"default_duration_minutes"`
	SlotGranularityMinutes        int    `json:"slot_granularity_minutes"`
}

// DefaultPolicy returns the built-in policy applied when a setting is
// absent or unreadable.
func DefaultPolicy() Policy {
	return Policy{
		BusinessOpen:                  "08:00",
		BusinessClose:                 "18:00",
		BufferMinutes:                 30,
		MinLeadDays:                   1,
		AllowSameDay:                  false,
		RescheduleNoticeRecurringDays: 2,
		CancelNoticeOnetimeHours:      24,
		CancelNoticeRecurringDays:     2,
		DefaultDurationMinutes:        120,
		SlotGranularityMinutes:        30,
	}
}

// Buffer returns the mandatory gap around committed jobs.
func (p Policy) Buffer() time.Duration {
	return time.Duration(p.BufferMinutes) * time.Minute
}

// DefaultDuration returns the standard booking length.
func (p Policy) DefaultDuration() time.Duration {
	return time.Duration(p.DefaultDurationMinutes) * time.Minute
}

// Granularity returns the slot step size.
func (p Policy) Granularity() time.Duration {
	return time.Duration(p.SlotGranularityMinutes) * time.Minute
}

// RescheduleNotice returns the minimum notice for rescheduling a
// recurring job.
func (p Policy) RescheduleNotice() time.Duration {
	return time.Duration(p.RescheduleNoticeRecurringDays) * 24 * time.Hour
}

// CancelNotice returns the minimum cancellation notice for the given
// recurrence classification.
func (p Policy) CancelNotice(recurring bool) time.Duration {
	if recurring {
		return time.Duration(p.CancelNoticeRecurringDays) * 24 * time.Hour
	}
	return time.Duration(p.CancelNoticeOnetimeHours) * time.Hour
}
