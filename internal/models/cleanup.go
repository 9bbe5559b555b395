package models

import "time"

// CleanupPolicy describes which documents of a collection are expired.
//
// A document matches when DateField is older than DaysOld days and, if
// StatusField is set, StatusField equals StatusValue.
type CleanupPolicy struct {
	Name        string `json:"name" yaml:"name"`
	Collection  string `json:"collection" yaml:"collection"`
	DateField   string `json:"dateField" yaml:"date_field"`
	DaysOld     int    `json:"daysOld" yaml:"days_old"`
	StatusField string `json:"statusField,omitempty" yaml:"status_field"`
	StatusValue string `json:"statusValue,omitempty" yaml:"status_value"`
}

// Cutoff returns the instant before which DateField counts as expired.
func (p CleanupPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.DaysOld)
}

// WithDays returns a copy of the policy with a different age threshold.
func (p CleanupPolicy) WithDays(days int) CleanupPolicy {
	p.DaysOld = days
	return p
}
