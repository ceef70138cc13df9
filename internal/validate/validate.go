// Package validate normalizes candidate sighting reports before they reach
// the store. It performs no I/O.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rollcall/attendance-server/internal/model"
)

// FieldError reports which field of a sighting report was rejected and why.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Normalize checks a sighting report for required fields and correct shapes
// and returns the attendance record that should be inserted. ID and
// CreatedAt on the result are left zero; the store assigns them.
func Normalize(report model.SightingReport) (model.AttendanceRecord, *FieldError) {
	var rec model.AttendanceRecord

	if report.StudentMACAddress == nil {
		return rec, &FieldError{Field: "student_mac_address", Reason: "required"}
	}
	mac := strings.TrimSpace(*report.StudentMACAddress)
	if mac == "" {
		return rec, &FieldError{Field: "student_mac_address", Reason: "must not be empty"}
	}

	if report.ClassroomID == nil {
		return rec, &FieldError{Field: "classroom_id", Reason: "required"}
	}
	classroom, err := strconv.Atoi(strings.TrimSpace(string(*report.ClassroomID)))
	if err != nil {
		return rec, &FieldError{Field: "classroom_id", Reason: "must be an integer"}
	}
	if classroom <= 0 {
		return rec, &FieldError{Field: "classroom_id", Reason: "must be a positive integer"}
	}

	if report.Timestamp == nil {
		return rec, &FieldError{Field: "timestamp", Reason: "required"}
	}
	ts, err := time.Parse(model.TimestampLayout, strings.TrimSpace(*report.Timestamp))
	if err != nil {
		return rec, &FieldError{Field: "timestamp", Reason: fmt.Sprintf("must match %q", model.TimestampLayout)}
	}

	rec.StudentMACAddress = mac
	rec.ClassroomID = classroom
	rec.EntryTimestamp = ts
	return rec, nil
}
