// Package attendance owns attendance records: how check-ins create
// them, how a check-in instant classifies into a status, and how
// batches of manual intents reconcile against what already exists.
package attendance

import (
	"errors"
	"time"
)

// Status classifies a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

var (
	// ErrNotEnrolled means the (student, course) pair has no enrollment,
	// which every record requires.
	ErrNotEnrolled = errors.New("student not enrolled in course")
	// ErrDuplicateCheckIn means a record already exists for the
	// (student, course, date) key; check-in never overwrites.
	ErrDuplicateCheckIn = errors.New("attendance already recorded for this date")
	// ErrNotFound means the referenced course or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus rejects statuses outside present/late/absent.
	ErrInvalidStatus = errors.New("invalid attendance status")
)

// Record is one student's attendance in one course on one date. At most
// one exists per (StudentID, CourseID, Date); the store's unique key
// enforces that. CheckInTime is nil only for swept absences and manual
// entries.
type Record struct {
	ID          string     `json:"id"`
	StudentID   int64      `json:"student_id"`
	CourseID    int64      `json:"course_id"`
	Date        time.Time  `json:"date"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
	Status      Status     `json:"status"`
	MatchScore  *float64   `json:"match_score,omitempty"`
	ImagePath   string     `json:"image_path,omitempty"`
	Remarks     string     `json:"remarks,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BatchItem is one intent inside a bulk apply.
type BatchItem struct {
	StudentID int64  `json:"student_id"`
	Status    Status `json:"status"`
	Remarks   string `json:"remarks"`
}

// BatchResult reports a bulk apply. Items fail independently; Errors
// holds one human-readable reason per failed item, keyed by student id.
type BatchResult struct {
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	Errors       []string `json:"errors"`
}

// DateKey normalizes a date to its calendar day for key comparisons.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
