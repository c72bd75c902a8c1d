package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/access"
	"rollcall/internal/roster"
)

// RecordStore is the persistence surface the ledger needs. Insert must
// be an atomic create-if-absent returning ErrDuplicateCheckIn on a key
// conflict.
type RecordStore interface {
	Get(ctx context.Context, studentID, courseID int64, date time.Time) (*Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	ListByCourse(ctx context.Context, courseID int64, from, to time.Time) ([]Record, error)
	ListByStudent(ctx context.Context, studentID int64) ([]Record, error)
	UnrecordedStudents(ctx context.Context, courseID int64, date time.Time) ([]int64, error)
}

// Roster resolves courses and enrollment existence.
type Roster interface {
	GetCourse(ctx context.Context, id int64) (roster.Course, error)
	EnrollmentExists(ctx context.Context, studentID, courseID int64) (bool, error)
}

// Service is the attendance ledger: the only component that creates or
// mutates records.
type Service struct {
	records       RecordStore
	roster        Roster
	lateThreshold time.Duration
}

// NewService creates the ledger. lateThreshold is how many minutes past
// course start still count as present.
func NewService(records RecordStore, ros Roster, lateThreshold time.Duration) *Service {
	if lateThreshold <= 0 {
		lateThreshold = 15 * time.Minute
	}
	return &Service{records: records, roster: ros, lateThreshold: lateThreshold}
}

// RecordCheckIn creates the record for a check-in event. The actor must
// be allowed to record on the course and the student must be enrolled.
// Status comes from the timing rules; this path never writes absent. A
// second check-in for the same key fails with ErrDuplicateCheckIn and
// leaves the original untouched.
func (s *Service) RecordCheckIn(ctx context.Context, actor access.Actor, studentID, courseID int64, date, instant time.Time, score *float64, imageRef string) (Record, error) {
	course, err := s.authorizedCourse(ctx, actor, courseID)
	if err != nil {
		return Record{}, err
	}
	if err := s.requireEnrollment(ctx, studentID, courseID); err != nil {
		return Record{}, err
	}

	rec := Record{
		StudentID:   studentID,
		CourseID:    courseID,
		Date:        date,
		CheckInTime: &instant,
		Status:      s.classify(course.StartTime, date, instant),
		MatchScore:  score,
		ImagePath:   imageRef,
	}
	return s.records.Insert(ctx, rec)
}

// ManualUpsert creates the record if the key is free and otherwise
// updates status and remarks in place. Applying the same input twice
// yields the same stored record.
func (s *Service) ManualUpsert(ctx context.Context, actor access.Actor, studentID, courseID int64, date time.Time, status Status, remarks string) (Record, error) {
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if _, err := s.authorizedCourse(ctx, actor, courseID); err != nil {
		return Record{}, err
	}
	if err := s.requireEnrollment(ctx, studentID, courseID); err != nil {
		return Record{}, err
	}
	return s.upsert(ctx, studentID, courseID, date, status, remarks)
}

// upsert is ManualUpsert after authorization: create if absent, update
// otherwise. An insert losing a race falls through to the update path.
func (s *Service) upsert(ctx context.Context, studentID, courseID int64, date time.Time, status Status, remarks string) (Record, error) {
	existing, err := s.records.Get(ctx, studentID, courseID, date)
	if err != nil {
		return Record{}, err
	}
	if existing == nil {
		rec, err := s.records.Insert(ctx, Record{
			StudentID: studentID,
			CourseID:  courseID,
			Date:      date,
			Status:    status,
			Remarks:   remarks,
		})
		if !errors.Is(err, ErrDuplicateCheckIn) {
			return rec, err
		}
		// Lost a create race; the record now exists, update it.
		existing, err = s.records.Get(ctx, studentID, courseID, date)
		if err != nil {
			return Record{}, err
		}
		if existing == nil {
			return Record{}, ErrNotFound
		}
	}
	existing.Status = status
	existing.Remarks = remarks
	return s.records.Update(ctx, *existing)
}

// ApplyBatch applies manual intents for one (course, date). The guard
// runs once for the batch; each item then validates and commits
// independently, so one failure never blocks the rest and committed
// items stay committed.
func (s *Service) ApplyBatch(ctx context.Context, actor access.Actor, courseID int64, date time.Time, items []BatchItem) (BatchResult, error) {
	if _, err := s.authorizedCourse(ctx, actor, courseID); err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, item := range items {
		if err := s.applyItem(ctx, courseID, date, item); err != nil {
			res.ErrorCount++
			res.Errors = append(res.Errors, fmt.Sprintf("student %d: %v", item.StudentID, err))
			continue
		}
		res.SuccessCount++
	}
	return res, nil
}

func (s *Service) applyItem(ctx context.Context, courseID int64, date time.Time, item BatchItem) error {
	if !item.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, item.Status)
	}
	if err := s.requireEnrollment(ctx, item.StudentID, courseID); err != nil {
		return err
	}
	_, err := s.upsert(ctx, item.StudentID, courseID, date, item.Status, item.Remarks)
	return err
}

// SweepAbsences marks every enrolled student without a record for the
// (course, date) as absent with no check-in time. It is the only
// producer of no-check-in records. Races with concurrent check-ins
// resolve in the check-in's favor.
func (s *Service) SweepAbsences(ctx context.Context, courseID int64, date time.Time) (int, error) {
	if _, err := s.roster.GetCourse(ctx, courseID); err != nil {
		return 0, s.mapCourseErr(err)
	}
	studentIDs, err := s.records.UnrecordedStudents(ctx, courseID, date)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, id := range studentIDs {
		_, err := s.records.Insert(ctx, Record{
			StudentID: id,
			CourseID:  courseID,
			Date:      date,
			Status:    StatusAbsent,
			Remarks:   "absence sweep",
		})
		if errors.Is(err, ErrDuplicateCheckIn) {
			continue // checked in between listing and marking
		}
		if err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// CourseRecords returns a course's records for reporting, date-bounded
// when from/to are non-zero.
func (s *Service) CourseRecords(ctx context.Context, actor access.Actor, courseID int64, from, to time.Time) ([]Record, error) {
	course, err := s.roster.GetCourse(ctx, courseID)
	if err != nil {
		return nil, s.mapCourseErr(err)
	}
	if err := access.Authorize(actor, access.ActionViewCourseStats, access.Target{CourseOwnerID: course.TeacherID}); err != nil {
		return nil, err
	}
	return s.records.ListByCourse(ctx, courseID, from, to)
}

// StudentRecords returns one student's records; students only see their
// own.
func (s *Service) StudentRecords(ctx context.Context, actor access.Actor, studentID int64) ([]Record, error) {
	if err := access.Authorize(actor, access.ActionViewOwnRecords, access.Target{StudentID: studentID}); err != nil {
		return nil, err
	}
	return s.records.ListByStudent(ctx, studentID)
}

// classify maps a check-in instant to present or late. No configured
// start time means present; within the late threshold of start is still
// present.
func (s *Service) classify(startClock string, date, instant time.Time) Status {
	if startClock == "" {
		return StatusPresent
	}
	start, err := parseClock(startClock)
	if err != nil {
		// A malformed stored start time must not punish the student.
		return StatusPresent
	}
	courseStart := time.Date(date.Year(), date.Month(), date.Day(),
		start.Hour(), start.Minute(), start.Second(), 0, instant.Location())
	if instant.Sub(courseStart) <= s.lateThreshold {
		return StatusPresent
	}
	return StatusLate
}

func parseClock(s string) (time.Time, error) {
	if t, err := time.Parse("15:04", s); err == nil {
		return t, nil
	}
	return time.Parse("15:04:05", s)
}

func (s *Service) authorizedCourse(ctx context.Context, actor access.Actor, courseID int64) (roster.Course, error) {
	course, err := s.roster.GetCourse(ctx, courseID)
	if err != nil {
		return roster.Course{}, s.mapCourseErr(err)
	}
	if err := access.Authorize(actor, access.ActionRecordCheckIn, access.Target{CourseOwnerID: course.TeacherID}); err != nil {
		return roster.Course{}, err
	}
	return course, nil
}

func (s *Service) requireEnrollment(ctx context.Context, studentID, courseID int64) error {
	enrolled, err := s.roster.EnrollmentExists(ctx, studentID, courseID)
	if err != nil {
		return err
	}
	if !enrolled {
		return ErrNotEnrolled
	}
	return nil
}

func (s *Service) mapCourseErr(err error) error {
	if errors.Is(err, roster.ErrNotFound) {
		return fmt.Errorf("course: %w", ErrNotFound)
	}
	return err
}
