package models

// Slot is a discrete offered start time for one calendar date.
// Unavailable slots are retained so clients can render them disabled
// instead of inferring gaps.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// DayAvailability is the full ordered slot menu for a date.
type DayAvailability struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}
