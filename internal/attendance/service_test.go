package attendance

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/access"
	"rollcall/internal/roster"
)

// fakeStore is an in-memory RecordStore honoring the same uniqueness
// contract as the Postgres repo.
type fakeStore struct {
	records map[string]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func key(studentID, courseID int64, date time.Time) string {
	return fmt.Sprintf("%d|%d|%s", studentID, courseID, DateKey(date))
}

func (f *fakeStore) Get(_ context.Context, studentID, courseID int64, date time.Time) (*Record, error) {
	rec, ok := f.records[key(studentID, courseID, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) Insert(_ context.Context, rec Record) (Record, error) {
	k := key(rec.StudentID, rec.CourseID, rec.Date)
	if _, exists := f.records[k]; exists {
		return Record{}, ErrDuplicateCheckIn
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	f.records[k] = rec
	return rec, nil
}

func (f *fakeStore) Update(_ context.Context, rec Record) (Record, error) {
	for k, existing := range f.records {
		if existing.ID == rec.ID {
			rec.UpdatedAt = time.Now()
			f.records[k] = rec
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (f *fakeStore) ListByCourse(_ context.Context, courseID int64, _, _ time.Time) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.CourseID == courseID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByStudent(_ context.Context, studentID int64) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.StudentID == studentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) UnrecordedStudents(_ context.Context, courseID int64, date time.Time) ([]int64, error) {
	return nil, nil
}

// fakeRoster serves one course and a set of enrollments.
type fakeRoster struct {
	course      roster.Course
	enrollments map[int64]bool
}

func (f *fakeRoster) GetCourse(_ context.Context, id int64) (roster.Course, error) {
	if id != f.course.ID {
		return roster.Course{}, roster.ErrNotFound
	}
	return f.course, nil
}

func (f *fakeRoster) EnrollmentExists(_ context.Context, studentID, courseID int64) (bool, error) {
	return courseID == f.course.ID && f.enrollments[studentID], nil
}

func setup(startTime string, enrolled ...int64) (*Service, *fakeStore, *fakeRoster) {
	store := newFakeStore()
	ros := &fakeRoster{
		course:      roster.Course{ID: 10, Code: "CS101", TeacherID: 7, StartTime: startTime},
		enrollments: make(map[int64]bool),
	}
	for _, id := range enrolled {
		ros.enrollments[id] = true
	}
	return NewService(store, ros, 15*time.Minute), store, ros
}

var (
	owner   = access.Actor{ID: 7, Role: access.RoleTeacher}
	admin   = access.Actor{ID: 1, Role: access.RoleAdmin}
	rival   = access.Actor{ID: 8, Role: access.RoleTeacher}
	day     = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	morning = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
)

func TestRecordCheckInClassification(t *testing.T) {
	tests := []struct {
		name      string
		startTime string
		instant   time.Time
		want      Status
	}{
		{"no start time configured", "", morning.Add(3 * time.Hour), StatusPresent},
		{"before start", "09:00", morning.Add(-10 * time.Minute), StatusPresent},
		{"exactly on start", "09:00", morning, StatusPresent},
		{"exactly at threshold", "09:00", morning.Add(15 * time.Minute), StatusPresent},
		{"one minute past threshold", "09:00", morning.Add(16 * time.Minute), StatusLate},
		{"well past threshold", "09:00", morning.Add(2 * time.Hour), StatusLate},
		{"seconds clock format", "09:00:00", morning.Add(16 * time.Minute), StatusLate},
		{"garbage start time", "whenever", morning.Add(2 * time.Hour), StatusPresent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setup(tt.startTime, 100)
			rec, err := svc.RecordCheckIn(context.Background(), owner, 100, 10, day, tt.instant, nil, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)
			require.NotNil(t, rec.CheckInTime)
			assert.True(t, rec.CheckInTime.Equal(tt.instant))
		})
	}
}

func TestRecordCheckInDuplicateLeavesOriginal(t *testing.T) {
	svc, store, _ := setup("09:00", 100)
	ctx := context.Background()

	first, err := svc.RecordCheckIn(ctx, owner, 100, 10, day, morning, nil, "")
	require.NoError(t, err)

	_, err = svc.RecordCheckIn(ctx, owner, 100, 10, day, morning.Add(time.Hour), nil, "")
	assert.ErrorIs(t, err, ErrDuplicateCheckIn)

	stored, err := store.Get(ctx, 100, 10, day)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, StatusPresent, stored.Status)
	assert.True(t, stored.CheckInTime.Equal(morning))
}

func TestRecordCheckInRequiresEnrollment(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	_, err := svc.RecordCheckIn(context.Background(), owner, 999, 10, day, morning, nil, "")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestRecordCheckInAuthorization(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	ctx := context.Background()

	_, err := svc.RecordCheckIn(ctx, rival, 100, 10, day, morning, nil, "")
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = svc.RecordCheckIn(ctx, admin, 100, 10, day, morning, nil, "")
	assert.NoError(t, err)
}

func TestRecordCheckInUnknownCourse(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	_, err := svc.RecordCheckIn(context.Background(), admin, 100, 404, day, morning, nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordCheckInKeepsScoreAndImage(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	score := 0.91
	rec, err := svc.RecordCheckIn(context.Background(), owner, 100, 10, day, morning, &score, "evidence/abc.jpg")
	require.NoError(t, err)
	require.NotNil(t, rec.MatchScore)
	assert.Equal(t, 0.91, *rec.MatchScore)
	assert.Equal(t, "evidence/abc.jpg", rec.ImagePath)
}

func TestManualUpsertCreatesThenUpdates(t *testing.T) {
	svc, store, _ := setup("09:00", 100)
	ctx := context.Background()

	created, err := svc.ManualUpsert(ctx, owner, 100, 10, day, StatusAbsent, "no show")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, created.Status)
	assert.Nil(t, created.CheckInTime)

	updated, err := svc.ManualUpsert(ctx, owner, 100, 10, day, StatusPresent, "excused, arrived later")
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "update must not mint a new record")
	assert.Equal(t, StatusPresent, updated.Status)

	assert.Len(t, store.records, 1)
}

func TestManualUpsertIdempotent(t *testing.T) {
	svc, store, _ := setup("09:00", 100)
	ctx := context.Background()

	first, err := svc.ManualUpsert(ctx, owner, 100, 10, day, StatusLate, "overslept")
	require.NoError(t, err)
	second, err := svc.ManualUpsert(ctx, owner, 100, 10, day, StatusLate, "overslept")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Remarks, second.Remarks)
	assert.Len(t, store.records, 1)
}

func TestManualUpsertRejectsInvalidStatus(t *testing.T) {
	svc, store, _ := setup("09:00", 100)
	_, err := svc.ManualUpsert(context.Background(), owner, 100, 10, day, Status("vanished"), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Empty(t, store.records)
}

func TestManualUpsertRequiresEnrollment(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	_, err := svc.ManualUpsert(context.Background(), owner, 999, 10, day, StatusPresent, "")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestApplyBatchPartialFailure(t *testing.T) {
	svc, store, _ := setup("09:00", 101, 102, 103)
	ctx := context.Background()

	items := []BatchItem{
		{StudentID: 101, Status: StatusPresent},
		{StudentID: 102, Status: StatusLate, Remarks: "bus"},
		{StudentID: 201, Status: StatusPresent}, // not enrolled
		{StudentID: 103, Status: StatusAbsent},
		{StudentID: 202, Status: StatusPresent}, // not enrolled
	}

	res, err := svc.ApplyBatch(ctx, owner, 10, day, items)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "student 201")
	assert.Contains(t, res.Errors[1], "student 202")

	// Failures never block later items: all three valid students landed.
	assert.Len(t, store.records, 3)
}

func TestApplyBatchUpdatesExistingRecords(t *testing.T) {
	svc, store, _ := setup("09:00", 101)
	ctx := context.Background()

	_, err := svc.ManualUpsert(ctx, owner, 101, 10, day, StatusAbsent, "")
	require.NoError(t, err)

	res, err := svc.ApplyBatch(ctx, owner, 10, day, []BatchItem{
		{StudentID: 101, Status: StatusPresent, Remarks: "was here after all"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	stored, _ := store.Get(ctx, 101, 10, day)
	require.NotNil(t, stored)
	assert.Equal(t, StatusPresent, stored.Status)
	assert.Len(t, store.records, 1)
}

func TestApplyBatchAuthorizationBeforeAnyMutation(t *testing.T) {
	svc, store, _ := setup("09:00", 101, 102)
	_, err := svc.ApplyBatch(context.Background(), rival, 10, day, []BatchItem{
		{StudentID: 101, Status: StatusPresent},
	})
	assert.ErrorIs(t, err, access.ErrForbidden)
	assert.Empty(t, store.records)
}

func TestApplyBatchAllItemsFailed(t *testing.T) {
	svc, store, _ := setup("09:00", 101)
	res, err := svc.ApplyBatch(context.Background(), owner, 10, day, []BatchItem{
		{StudentID: 900, Status: StatusPresent},
		{StudentID: 901, Status: Status("nope")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Empty(t, store.records, "an all-failed batch commits nothing")
}

func TestApplyBatchCountsMatchInput(t *testing.T) {
	svc, _, _ := setup("09:00", 101, 102, 103)
	items := []BatchItem{
		{StudentID: 101, Status: StatusPresent},
		{StudentID: 500, Status: StatusPresent},
		{StudentID: 102, Status: Status("bad")},
		{StudentID: 103, Status: StatusLate},
	}
	res, err := svc.ApplyBatch(context.Background(), owner, 10, day, items)
	require.NoError(t, err)
	assert.Equal(t, len(items), res.SuccessCount+res.ErrorCount)
}

// sweepStore augments the fake with a real UnrecordedStudents so the
// sweep can be exercised end to end.
type sweepStore struct {
	*fakeStore
	roster *fakeRoster
}

func (s *sweepStore) UnrecordedStudents(_ context.Context, courseID int64, date time.Time) ([]int64, error) {
	var out []int64
	for id := range s.roster.enrollments {
		if _, ok := s.records[key(id, courseID, date)]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func TestSweepAbsences(t *testing.T) {
	base := newFakeStore()
	ros := &fakeRoster{
		course:      roster.Course{ID: 10, Code: "CS101", TeacherID: 7, StartTime: "09:00"},
		enrollments: map[int64]bool{101: true, 102: true, 103: true},
	}
	store := &sweepStore{fakeStore: base, roster: ros}
	svc := NewService(store, ros, 15*time.Minute)
	ctx := context.Background()

	_, err := svc.RecordCheckIn(ctx, owner, 101, 10, day, morning, nil, "")
	require.NoError(t, err)

	marked, err := svc.SweepAbsences(ctx, 10, day)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	for _, id := range []int64{102, 103} {
		rec, _ := store.Get(ctx, id, 10, day)
		require.NotNil(t, rec, "student %d should be marked", id)
		assert.Equal(t, StatusAbsent, rec.Status)
		assert.Nil(t, rec.CheckInTime)
	}
	checked, _ := store.Get(ctx, 101, 10, day)
	assert.Equal(t, StatusPresent, checked.Status, "sweep must not touch checked-in students")

	// Sweeping again finds nothing to do.
	marked, err = svc.SweepAbsences(ctx, 10, day)
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestStudentRecordsScope(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	ctx := context.Background()
	student := access.Actor{ID: 100, Role: access.RoleStudent}

	_, err := svc.StudentRecords(ctx, student, 100)
	assert.NoError(t, err)

	_, err = svc.StudentRecords(ctx, student, 101)
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = svc.StudentRecords(ctx, admin, 100)
	assert.NoError(t, err)
}

func TestCourseRecordsScope(t *testing.T) {
	svc, _, _ := setup("09:00", 100)
	ctx := context.Background()

	_, err := svc.CourseRecords(ctx, rival, 10, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = svc.CourseRecords(ctx, owner, 10, time.Time{}, time.Time{})
	assert.NoError(t, err)
}
