package models

import "time"

// SettingType describes how a setting value is interpreted.
type SettingType string

const (
	SettingTypeString  SettingType = "string"
	SettingTypeInteger SettingType = "integer"
	SettingTypeBoolean SettingType = "boolean"
	SettingTypeClock   SettingType = "clock"
)

// Setting is a single key/value row in the administrative settings
// store.
type Setting struct {
	Key       string      `db:"key" json:"key"`
	Value     string      `db:"value" json:"value"`
	Type      SettingType `db:"type" json:"type"`
	UpdatedBy *string     `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
