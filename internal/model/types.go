package model

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the wire format scanners use for entry timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the calendar-day format used by the summary queries.
const DateLayout = "2006-01-02"

// IntOrString carries a raw JSON scalar that may arrive as either a number
// or a quoted numeric string. Scanner firmware revisions disagree on how
// classroom_id is encoded, so decoding never fails here; the validator owns
// the coercion to an integer.
type IntOrString string

func (v *IntOrString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = IntOrString(s)
		return nil
	}
	*v = IntOrString(data)
	return nil
}

// SightingReport is a candidate attendance report as submitted by a scanner.
// Fields are pointers so that absent and present-but-invalid values can be
// told apart during validation.
type SightingReport struct {
	StudentMACAddress *string      `json:"student_mac_address"`
	ClassroomID       *IntOrString `json:"classroom_id"`
	Timestamp         *string      `json:"timestamp"`
}

// AttendanceRecord is a persisted sighting event. ID and CreatedAt are
// assigned by the store on insert and are never mutated afterwards.
type AttendanceRecord struct {
	ID                int64     `json:"id"`
	StudentMACAddress string    `json:"student_mac_address"`
	ClassroomID       int       `json:"classroom_id"`
	EntryTimestamp    time.Time `json:"entry_timestamp"`
	CreatedAt         time.Time `json:"created_at"`
}

// DailySummary aggregates one classroom's sightings for one calendar day.
type DailySummary struct {
	ClassroomID    int    `json:"classroom_id"`
	Date           string `json:"date"`
	UniqueStudents int    `json:"unique_students"`
	TotalEntries   int    `json:"total_entries"`
}

// IngestionError captures a report that failed validation, together with the
// raw payload for later inspection.
type IngestionError struct {
	Source    string    `json:"source"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// ScannerStatus tracks the last time a classroom's scanner reported in.
type ScannerStatus struct {
	ClassroomID int       `json:"classroom_id"`
	Source      string    `json:"source"`
	LastSeen    time.Time `json:"last_seen"`
}
