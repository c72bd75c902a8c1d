package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
)

func rec(studentID int64, status attendance.Status) attendance.Record {
	return attendance.Record{
		StudentID: studentID,
		CourseID:  10,
		Date:      time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		Status:    status,
	}
}

func TestAggregateSingleStudent(t *testing.T) {
	records := []attendance.Record{
		rec(100, attendance.StatusPresent),
		rec(100, attendance.StatusPresent),
		rec(100, attendance.StatusLate),
		rec(100, attendance.StatusAbsent),
	}

	sum := Aggregate(records, 1)
	require.Len(t, sum.PerStudent, 1)
	st := sum.PerStudent[0]
	assert.Equal(t, int64(100), st.StudentID)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Present)
	assert.Equal(t, 1, st.Late)
	assert.Equal(t, 1, st.Absent)
	assert.Equal(t, 50.0, st.AttendanceRate)
}

func TestAggregateSortsByRateDescending(t *testing.T) {
	records := []attendance.Record{
		rec(1, attendance.StatusAbsent),  // 0%
		rec(2, attendance.StatusPresent), // 100%
		rec(3, attendance.StatusPresent), // 50%
		rec(3, attendance.StatusLate),
	}

	sum := Aggregate(records, 3)
	require.Len(t, sum.PerStudent, 3)
	assert.Equal(t, int64(2), sum.PerStudent[0].StudentID)
	assert.Equal(t, int64(3), sum.PerStudent[1].StudentID)
	assert.Equal(t, int64(1), sum.PerStudent[2].StudentID)
}

func TestAggregateTiesKeepGroupingOrder(t *testing.T) {
	// Students 5 and 2 both at 100%; 5 appears first in the input and
	// must stay first.
	records := []attendance.Record{
		rec(5, attendance.StatusPresent),
		rec(2, attendance.StatusPresent),
	}

	sum := Aggregate(records, 2)
	require.Len(t, sum.PerStudent, 2)
	assert.Equal(t, int64(5), sum.PerStudent[0].StudentID)
	assert.Equal(t, int64(2), sum.PerStudent[1].StudentID)
}

func TestAggregateOverall(t *testing.T) {
	records := []attendance.Record{
		rec(1, attendance.StatusPresent),
		rec(1, attendance.StatusLate),
		rec(2, attendance.StatusPresent),
		rec(2, attendance.StatusAbsent),
	}

	// 7 enrolled, only 2 with records: the denominator context must not
	// shrink to the students present in the record set.
	sum := Aggregate(records, 7)
	assert.Equal(t, 4, sum.Overall.TotalRecords)
	assert.Equal(t, 7, sum.Overall.TotalStudents)
	assert.Equal(t, 2, sum.Overall.Present)
	assert.Equal(t, 1, sum.Overall.Late)
	assert.Equal(t, 1, sum.Overall.Absent)
	assert.Equal(t, 50.0, sum.Overall.AverageAttendanceRate)
}

func TestAggregateEmptyInput(t *testing.T) {
	sum := Aggregate(nil, 5)
	assert.Empty(t, sum.PerStudent)
	assert.Equal(t, 0, sum.Overall.TotalRecords)
	assert.Equal(t, 5, sum.Overall.TotalStudents)
	assert.Equal(t, 0.0, sum.Overall.AverageAttendanceRate, "no division fault on zero records")
}
